package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API key middleware has already vetted the request
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSHandler streams resource status events over a websocket. The client
// selects the resource with ?resourceId=.
func WSHandler(m *Manager, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.URL.Query().Get("resourceId")
		if resourceID == "" {
			http.Error(w, "resourceId is required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		events, cancel := m.Subscribe(resourceID)
		defer cancel()

		// drain client frames so close and pong handling work
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}
