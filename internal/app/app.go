// Package app wires the shared dependency graph used by the API server and
// the worker processes.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/adapter"
	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/chunking"
	"github.com/vektorlab/passage/internal/config"
	"github.com/vektorlab/passage/internal/embeddings"
	"github.com/vektorlab/passage/internal/evaluator"
	"github.com/vektorlab/passage/internal/health"
	"github.com/vektorlab/passage/internal/pipeline"
	"github.com/vektorlab/passage/internal/query"
	"github.com/vektorlab/passage/internal/realtime"
	"github.com/vektorlab/passage/internal/store"
	"github.com/vektorlab/passage/internal/vectordb"
)

// App is the assembled dependency graph of one process.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	DB       *store.Store
	Redis    redis.UniversalClient
	Cache    *cache.Cache
	Broker   *broker.Broker
	Embedder *embeddings.Client
	Vector   *vectordb.Client
	Adapters *adapter.Service
	Splitter *chunking.Splitter
	Loader   *pipeline.Loader
	Proc     *pipeline.Processor
	Realtime *realtime.Manager
	Engine   *query.Engine
	Eval     *evaluator.Evaluator
	Health   *health.Manager
}

// New builds the full graph. Every process uses the same wiring and simply
// ignores the parts it does not run.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(ctx, cfg.Postgres.DSN(), logger)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := cache.New(rdb)
	bus := broker.New(rdb, logger)

	embedder := embeddings.NewClient(embeddings.Config{
		BaseURL:   cfg.Embedder.BaseURL,
		Timeout:   cfg.Embedder.Timeout,
		RateLimit: cfg.Embedder.RateLimit,
	}, embeddings.NewRedisVectorCache(rdb), logger)

	vdb := vectordb.NewClient(vectordb.Config{
		BaseURL: cfg.Vector.URL,
		APIKey:  cfg.Vector.APIKey,
		Timeout: cfg.Vector.Timeout,
	}, "qdrant", logger)

	var adapterStorage adapter.Storage
	if cfg.Adapter.UseDB {
		adapterStorage = adapter.NewDBStorage(db)
	} else {
		adapterStorage, err = adapter.NewFileStorage(cfg.Adapter.StoragePath)
		if err != nil {
			return nil, err
		}
	}
	adapters := adapter.NewService(adapterStorage, logger)

	splitter := chunking.NewSplitterWithDefaults(embedder, chunking.Defaults{
		ChunkSize:        cfg.Chunking.DefaultChunkSize,
		ChunkOverlap:     cfg.Chunking.DefaultChunkOverlap,
		SemanticMaxInput: cfg.Chunking.SemanticMaxInput,
	})
	loader := pipeline.NewLoader(nil)
	proc := pipeline.NewProcessor(splitter, embedder, bus, logger)
	rt := realtime.NewManager(logger)

	engine := query.NewEngine(db, kv, vdb, embedder, adapters, bus, logger)
	eval := evaluator.New(db, engine, logger)

	hm := health.NewManager(logger)
	hm.Register(health.CheckerFunc{CheckerName: "postgres", Fn: db.Ping})
	hm.Register(health.CheckerFunc{CheckerName: "redis", Fn: kv.Ping})
	hm.Register(health.CheckerFunc{CheckerName: "qdrant", Fn: vdb.Healthy})
	hm.Register(health.CheckerFunc{CheckerName: "embedder", Fn: embedder.Healthy})

	return &App{
		Cfg:      cfg,
		Log:      logger,
		DB:       db,
		Redis:    rdb,
		Cache:    kv,
		Broker:   bus,
		Embedder: embedder,
		Vector:   vdb,
		Adapters: adapters,
		Splitter: splitter,
		Loader:   loader,
		Proc:     proc,
		Realtime: rt,
		Engine:   engine,
		Eval:     eval,
		Health:   hm,
	}, nil
}

// RegionVector builds the vector client for one sync queue's region.
func (a *App) RegionVector(queue string) *vectordb.Client {
	url, ok := a.Cfg.Vector.Regions[queue]
	if !ok || url == "" {
		url = a.Cfg.Vector.URL
	}
	return vectordb.NewClient(vectordb.Config{
		BaseURL: url,
		APIKey:  a.Cfg.Vector.APIKey,
		Timeout: a.Cfg.Vector.Timeout,
	}, queue, a.Log)
}

// Close releases held connections.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ServeAdmin runs the admin surface (metrics, health probes) until ctx is
// cancelled.
func (a *App) ServeAdmin(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", a.Health.Handler())
	mux.HandleFunc("/readiness", a.Health.Handler())
	mux.HandleFunc("/liveness", health.LivenessHandler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Cfg.AdminPort),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	a.Log.Info("Admin server listening", zap.Int("port", a.Cfg.AdminPort))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.Log.Error("Admin server failed", zap.Error(err))
	}
}
