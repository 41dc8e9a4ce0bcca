// Command persistworker drains the persist fan-out queues: the document
// store sync plus one consumer per vector store region.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vektorlab/passage/internal/app"
	"github.com/vektorlab/passage/internal/broker"
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

	go a.ServeAdmin(ctx)
	consumer := consumerName()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w := workers.NewDocumentPersistWorker(a.DB, a.Broker, a.Log)
		return w.Run(gctx, consumer)
	})
	for _, queue := range []string{broker.QueueQdrantUSASync, broker.QueueQdrantIndiaSync} {
		w := workers.NewVectorPersistWorker(a.RegionVector(queue), a.Broker, queue, a.Log)
		g.Go(func() error { return w.Run(gctx, consumer) })
	}

	a.Log.Info("Persist workers starting", zap.String("consumer", consumer))
	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Log.Fatal("Persist worker failed", zap.Error(err))
	}
	a.Log.Info("Persist workers stopped")
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("persist-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
