// Command feedbackworker consumes vote events: feedback docs, query-vector
// indexing and adapter training. It also drains the analytics queue.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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

	go a.ServeAdmin(ctx)
	consumer := consumerName()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w := workers.NewFeedbackWorker(a.DB, a.Vector, a.Embedder, a.Adapters, a.Broker, a.Log)
		return w.Run(gctx, consumer)
	})
	g.Go(func() error {
		w := workers.NewAnalyticsWorker(a.DB, a.Broker, a.Log)
		return w.Run(gctx, consumer)
	})

	a.Log.Info("Feedback worker starting", zap.String("consumer", consumer))
	if err := g.Wait(); err != nil && err != context.Canceled {
		a.Log.Fatal("Feedback worker failed", zap.Error(err))
	}
	a.Log.Info("Feedback worker stopped")
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("feedback-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
