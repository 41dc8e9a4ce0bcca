// Package httpapi exposes the REST surface: collections, resources, search,
// feedback, eval and utility endpoints.
package httpapi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/adapter"
	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/chunking"
	"github.com/vektorlab/passage/internal/evaluator"
	"github.com/vektorlab/passage/internal/query"
	"github.com/vektorlab/passage/internal/realtime"
	"github.com/vektorlab/passage/internal/store"
)

// Server carries the dependencies of every handler.
type Server struct {
	db       *store.Store
	kv       *cache.Cache
	bus      *broker.Broker
	engine   *query.Engine
	eval     *evaluator.Evaluator
	adapters *adapter.Service
	rt       *realtime.Manager
	prober   *chunking.RemoteChunker
	apiKey   string
	log      *zap.Logger
}

// Options bundles the server dependencies.
type Options struct {
	Store    *store.Store
	Cache    *cache.Cache
	Broker   *broker.Broker
	Engine   *query.Engine
	Eval     *evaluator.Evaluator
	Adapters *adapter.Service
	Realtime *realtime.Manager
	APIKey   string
	Logger   *zap.Logger
}

// NewServer builds the API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:       opts.Store,
		kv:       opts.Cache,
		bus:      opts.Broker,
		engine:   opts.Engine,
		eval:     opts.Eval,
		adapters: opts.Adapters,
		rt:       opts.Realtime,
		prober:   chunking.NewRemoteChunker(nil),
		apiKey:   opts.APIKey,
		log:      logger,
	}
}

// Routes builds the business mux. Every route sits behind the API key
// middleware; the feedback review links are exempt so they work from a mail
// client.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /collection", s.createCollection)
	mux.HandleFunc("GET /collection/{id}", s.getCollection)
	mux.HandleFunc("PUT /collection/{id}", s.updateCollection)
	mux.HandleFunc("DELETE /collection/{id}", s.deleteCollection)
	mux.HandleFunc("GET /collection/{id}/resources", s.listResources)

	mux.HandleFunc("POST /resource", s.createResource)
	mux.HandleFunc("GET /resource/{id}", s.getResource)
	mux.HandleFunc("PUT /resource/{id}", s.updateResource)
	mux.HandleFunc("DELETE /resource/{id}", s.deleteResource)
	mux.HandleFunc("GET /resource/{id}/chunks", s.listChunks)

	mux.HandleFunc("POST /search", s.search)

	mux.HandleFunc("POST /feedback/vote", s.postVote)

	mux.HandleFunc("GET /utility/encoding-models", s.encodingModels)

	mux.HandleFunc("POST /eval/cases", s.createEvalCase)
	mux.HandleFunc("GET /eval/cases/{collectionId}/{ownerId}", s.listEvalCases)
	mux.HandleFunc("POST /eval/run/{datasetId}/{ownerId}", s.runEval)

	mux.HandleFunc("GET /ws", realtime.WSHandler(s.rt, s.log))

	protected := s.withAPIKey(mux)

	// review links arrive from contexts that cannot set headers
	outer := http.NewServeMux()
	outer.HandleFunc("GET /feedback/vote/{refId}/{action}", s.reviewVote)
	outer.Handle("/", protected)
	return s.withLogging(outer)
}

// withAPIKey rejects requests missing the static key. An empty configured
// key disables the check for local development.
func (s *Server) withAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade works behind the logger.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
