// Command ingestworker consumes the ingest queue and drives resources
// through load, chunk and delete.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/app"
	"github.com/vektorlab/passage/internal/workers"
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

	worker := workers.NewIngestWorker(a.DB, a.Loader, a.Proc, a.Broker, a.Realtime,
		a.Cfg.Chunking.MinChunkSize, a.Log)

	go a.ServeAdmin(ctx)

	consumer := consumerName()
	a.Log.Info("Ingest worker starting", zap.String("consumer", consumer))
	if err := worker.Run(ctx, consumer); err != nil && err != context.Canceled {
		a.Log.Fatal("Ingest worker failed", zap.Error(err))
	}
	a.Log.Info("Ingest worker stopped")
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("ingest-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
