// Command syncworker periodically re-queues load events for URL-backed
// resources whose content may have drifted.
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

	go a.ServeAdmin(ctx)

	job := workers.NewSyncJob(a.DB, a.Broker, a.Cfg.Sync.Interval, a.Log)
	a.Log.Info("Sync worker starting", zap.Duration("interval", a.Cfg.Sync.Interval))
	if err := job.Run(ctx); err != nil && err != context.Canceled {
		a.Log.Fatal("Sync worker failed", zap.Error(err))
	}
	a.Log.Info("Sync worker stopped")
}
