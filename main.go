// Command passage serves the REST API: collection and resource management,
// search, feedback intake and offline evaluation. Ingestion itself runs in
// the worker processes under cmd/.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/app"
	"github.com/vektorlab/passage/internal/httpapi"
)

func main() {
	ctx, stop := app.SignalContext()
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	server := httpapi.NewServer(httpapi.Options{
		Store:    a.DB,
		Cache:    a.Cache,
		Broker:   a.Broker,
		Engine:   a.Engine,
		Eval:     a.Eval,
		Adapters: a.Adapters,
		Realtime: a.Realtime,
		APIKey:   a.Cfg.APIKey,
		Logger:   a.Log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.ServeAdmin(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.Log.Info("API server listening", zap.Int("port", a.Cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.Log.Fatal("API server failed", zap.Error(err))
	}
	a.Log.Info("API server stopped")
}
