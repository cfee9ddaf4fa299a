package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetwatch/beacond/internal/beacon"
	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/config"
	"github.com/fleetwatch/beacond/internal/events"
	"github.com/fleetwatch/beacond/internal/fleet"
	"github.com/fleetwatch/beacond/internal/liveness"
	"github.com/fleetwatch/beacond/internal/logging"
	"github.com/fleetwatch/beacond/internal/registry"
	"github.com/fleetwatch/beacond/internal/server"
	"github.com/fleetwatch/beacond/internal/store"
	"github.com/fleetwatch/beacond/internal/taskqueue"
	"github.com/fleetwatch/beacond/pkg/redis"
)

type backends struct {
	implants store.ImplantBackend
	tasks    store.TaskBackend
	types    store.TaskTypeBackend
	redis    *redis.Client
	db       *sql.DB
}

func (b *backends) Close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	// The Redis client also carries the event journal
	if cfg.Storage.Backend == config.BackendRedis || cfg.Redis.Journal {
		client := redis.NewClient(cfg.Redis.Addr)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.Timeout)
		err := client.Ping(pingCtx)
		cancel()
		switch {
		case err == nil:
			b.redis = client
		case cfg.Storage.Backend == config.BackendRedis:
			client.Close()
			return nil, err
		default:
			log.Printf("Warning: Redis at %s unreachable, event journal disabled: %v", cfg.Redis.Addr, err)
			client.Close()
		}
	}

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		b.implants = store.NewRedisImplants(b.redis)
		b.tasks = store.NewRedisTasks(b.redis)
		b.types = store.NewRedisTaskTypes(b.redis)
	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.Database.DSN())
		if err != nil {
			b.Close()
			return nil, err
		}
		b.db = db
		b.implants = store.NewPostgresImplants(db)
		b.tasks = store.NewPostgresTasks(db)
		b.types = store.NewPostgresTaskTypes(db)
	default:
		b.implants = store.NewMemoryImplants()
		b.tasks = store.NewMemoryTasks()
		b.types = store.NewMemoryTaskTypes()
	}
	return b, nil
}

func mergePolicy(name string) registry.MergePolicy {
	if name == "preserve_blank" {
		return registry.PreserveBlank
	}
	return registry.FullOverwrite
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.Setup(logging.Config{
		Dir:         cfg.Logging.Dir,
		ServiceName: "beacond",
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		Debug:       cfg.Logging.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := server.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)

	b, err := openBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Storage.Backend, err)
	}
	defer b.Close()

	hub := events.NewHub()
	defer hub.Close()
	publisher := events.Publisher(hub)

	var journal *events.Journal
	if b.redis != nil && cfg.Redis.Journal {
		journal = events.NewJournal(b.redis, cfg.Storage.Timeout)
		defer journal.Close()
		publisher = events.Multi(hub, journal)
	}

	clk := clock.System{}
	reg := registry.New(b.implants, clk, registry.Config{
		MinIntervalSeconds:    cfg.Registry.MinIntervalSeconds,
		MissedBeaconThreshold: cfg.Registry.MissedBeaconThreshold,
		StorageTimeout:        cfg.Storage.Timeout,
		Merge:                 mergePolicy(cfg.Registry.MergePolicy),
		Events:                publisher,
	})
	queue := taskqueue.New(b.tasks, clk,
		taskqueue.WithEvents(publisher),
		taskqueue.WithStorageTimeout(cfg.Storage.Timeout),
		taskqueue.WithTaskTypes(b.types),
	)
	evaluator := liveness.NewEvaluator(reg, clk, cfg.Liveness.SweepInterval)

	srv := server.NewServer(server.Deps{
		Registry:  reg,
		Queue:     queue,
		Handler:   beacon.NewHandler(reg, queue, cfg.Tasks.BatchLimit),
		Fleet:     fleet.NewService(reg),
		Evaluator: evaluator,
		Hub:       hub,
		Journal:   journal,
	})

	evaluator.Start()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(cfg.Server.GRPCPort) }()
	go func() { errCh <- srv.StartHTTP(cfg.Server.HTTPAddr) }()

	log.Printf("Starting beacond (backend: %s, gRPC port: %s, HTTP: %s)",
		cfg.Storage.Backend, cfg.Server.GRPCPort, cfg.Server.HTTPAddr)

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	evaluator.Stop()
	srv.Stop(shutdownCtx)
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("Tracer shutdown: %v", err)
	}
	log.Println("beacond stopped")
}
