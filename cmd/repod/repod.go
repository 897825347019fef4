package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	machinery "github.com/RichardKnop/machinery/v1"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/blankon/irgsh-repod/internal/config"
	"github.com/blankon/irgsh-repod/internal/metrics"
	"github.com/blankon/irgsh-repod/internal/monitoring"
	"github.com/blankon/irgsh-repod/internal/notification"
	"github.com/blankon/irgsh-repod/internal/queue"
	"github.com/blankon/irgsh-repod/internal/storage"
	"github.com/blankon/irgsh-repod/pkg/httputil"
)

// repod holds what every command shares.
type repod struct {
	cfg       config.Config
	server    *machinery.Server
	db        *storage.DB
	store     *storage.RepoStore
	publisher *notification.Publisher
	recorder  metrics.Recorder
	registry  *prom.Registry
}

func loadConfig(c *cli.Context) (config.Config, error) {
	if path := c.GlobalString("config"); path != "" {
		return config.LoadConfigFromPath(path)
	}
	return config.LoadConfig()
}

func newRuntime(c *cli.Context) (*repod, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}

	server, err := queue.NewServer(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("could not create server: %w", err)
	}

	db, err := storage.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	rt := &repod{
		cfg:       cfg,
		server:    server,
		db:        db,
		store:     storage.NewRepoStore(db),
		publisher: notification.NewPublisher(server, cfg.CallbackMaxAttempts),
		recorder:  metrics.NoopRecorder{},
	}
	if cfg.MetricsAddress != "" {
		rt.registry = prom.NewRegistry()
		rt.recorder = metrics.NewPrometheusRecorder(rt.registry)
	}
	return rt, nil
}

func (rt *repod) Close() {
	if err := rt.db.Close(); err != nil {
		log.Printf("Failed to close database: %v\n", err)
	}
}

// serve runs the process parts side by side. The first part to fail, or
// to return, stops the others.
func (rt *repod) serve(ctx context.Context, instanceType monitoring.InstanceType, queueName string, concurrency int, tasks *monitoring.TaskCounter, main func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return main(ctx)
	})

	if rt.registry != nil {
		g.Go(func() error {
			return serveMetrics(ctx, rt.cfg.MetricsAddress, rt.registry)
		})
	}

	if rt.cfg.Monitoring.Enabled {
		ttl := time.Duration(rt.cfg.Monitoring.InstanceTimeout) * time.Second
		registry, err := monitoring.NewRegistry(ctx, rt.cfg.Redis, ttl)
		if err != nil {
			log.Printf("Failed to initialize monitoring registry: %v\n", err)
			log.Println("Continuing without monitoring...")
		} else {
			defer registry.Close()
			heartbeat := &monitoring.Heartbeat{
				Updater:     registry,
				Type:        instanceType,
				Queue:       queueName,
				Concurrency: concurrency,
				Interval:    time.Duration(rt.cfg.Monitoring.HeartbeatInterval) * time.Second,
				DiskPath:    rt.cfg.ReposRoot,
				Tasks:       tasks,
			}
			g.Go(func() error { return heartbeat.Run(ctx) })

			if instanceType == monitoring.InstanceTypeScheduler && rt.cfg.Monitoring.CleanupInterval > 0 {
				interval := time.Duration(rt.cfg.Monitoring.CleanupInterval) * time.Second
				g.Go(func() error { return monitoring.RunCleanup(ctx, registry, interval) })
			}
		}
	}

	return g.Wait()
}

// launchWorker runs a machinery worker until it quits or ctx is done.
func launchWorker(ctx context.Context, worker *machinery.Worker) error {
	errorsChan := make(chan error, 1)
	worker.LaunchAsync(errorsChan)

	select {
	case err := <-errorsChan:
		if errors.Is(err, machinery.ErrWorkerQuitGracefully) {
			return nil
		}
		return err
	case <-ctx.Done():
		worker.Quit()
		return nil
	}
}

func metricsMux(registry *prom.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(registry))
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.ResponseError("method not allowed", http.StatusMethodNotAllowed, w)
			return
		}
		httputil.ResponseJSON(map[string]string{"version": monitoring.GetVersion()}, http.StatusOK, w)
	})
	return mux
}

func serveMetrics(ctx context.Context, addr string, registry *prom.Registry) error {
	srv := &http.Server{Addr: addr, Handler: metricsMux(registry)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Println("irgsh-repod metrics now live on " + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
