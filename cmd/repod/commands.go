package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/blankon/irgsh-repod/internal/buildworker"
	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/internal/monitoring"
	"github.com/blankon/irgsh-repod/internal/notification"
	"github.com/blankon/irgsh-repod/internal/poller"
	"github.com/blankon/irgsh-repod/internal/purger"
	"github.com/blankon/irgsh-repod/internal/queue"
	"github.com/blankon/irgsh-repod/pkg/systemutil"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (rt *repod) newPoller() *poller.Poller {
	dispatcher := queue.NewDispatcher(rt.server, rt.cfg.QuietDuration())
	return poller.New(rt.store, dispatcher, rt.publisher, rt.cfg.BuildTimeoutDuration(), rt.recorder)
}

func (rt *repod) newPurger() *purger.Purger {
	return purger.New(rt.store, rt.publisher, afero.NewOsFs(), rt.cfg.PurgeRepos, rt.recorder)
}

func (rt *repod) newBuilders() map[model.RepoType]buildworker.Builder {
	builders := map[model.RepoType]buildworker.Builder{}
	if rt.cfg.Builders.RPM != "" {
		builders[model.RepoTypeRPM] = buildworker.NewExecBuilder(rt.cfg.Builders.RPM, rt.cfg.ReposRoot)
	}
	switch {
	case rt.cfg.Builders.DEB != "":
		builders[model.RepoTypeDEB] = buildworker.NewExecBuilder(rt.cfg.Builders.DEB, rt.cfg.ReposRoot)
	case rt.cfg.Builders.Reprepro.Enabled:
		builders[model.RepoTypeDEB] = buildworker.NewRepreproBuilder(rt.cfg.Builders.Reprepro, rt.cfg.ReposRoot)
	}
	return builders
}

func runScheduler(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	periodic := []struct{ schedule, name string }{
		{rt.cfg.PollSchedule, queue.TaskPoll},
		{rt.cfg.PurgeSchedule, queue.TaskPurge},
	}
	for _, p := range periodic {
		if err := rt.server.RegisterPeriodicTask(p.schedule, p.name, &tasks.Signature{Name: p.name}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", p.name, err)
		}
		log.Printf("Scheduled %s (%s)\n", p.name, p.schedule)
	}

	ctx, stop := signalContext()
	defer stop()
	return rt.serve(ctx, monitoring.InstanceTypeScheduler, queue.DefaultQueue, 0, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}

func runWorker(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	counter := &monitoring.TaskCounter{}
	p := rt.newPoller()
	pu := rt.newPurger()
	callbacks := notification.NewHandler(
		notification.NewClient(notification.ClientConfigFrom(rt.cfg)),
		rt.cfg.CallbackRetryDelayDuration(),
		rt.recorder,
	)

	err = rt.server.RegisterTasks(map[string]interface{}{
		queue.TaskPoll: func() error {
			return counter.Track(p.PollTask)
		},
		queue.TaskPurge: func() error {
			return counter.Track(pu.PurgeTask)
		},
		queue.TaskCallback: func(ctx context.Context, payload, project, url string) error {
			return counter.Track(func() error {
				return callbacks.CallbackTask(ctx, payload, project, url)
			})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	concurrency := rt.cfg.WorkerConcurrency
	worker := rt.server.NewWorker("repod-worker", concurrency)
	return rt.serve(context.Background(), monitoring.InstanceTypeWorker, queue.DefaultQueue, concurrency, counter, func(ctx context.Context) error {
		return launchWorker(ctx, worker)
	})
}

func runBuilder(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	builders := rt.newBuilders()
	if len(builders) == 0 {
		return fmt.Errorf("no builder command configured")
	}
	for t := range builders {
		log.Printf("Builder for %s repos enabled\n", t)
	}

	counter := &monitoring.TaskCounter{}
	bw := buildworker.New(rt.store, rt.publisher, builders, rt.cfg.BuildTimeoutDuration(), rt.recorder)
	err = rt.server.RegisterTasks(map[string]interface{}{
		queue.TaskBuildRPM: func(repoID int64) error {
			return counter.Track(func() error { return bw.BuildRPMTask(repoID) })
		},
		queue.TaskBuildDEB: func(repoID int64) error {
			return counter.Track(func() error { return bw.BuildDEBTask(repoID) })
		},
	})
	if err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	concurrency := rt.cfg.WorkerConcurrency
	worker := rt.server.NewCustomQueueWorker("repod-builder", concurrency, queue.BuildQueue)
	return rt.serve(context.Background(), monitoring.InstanceTypeBuilder, queue.BuildQueue, concurrency, counter, func(ctx context.Context) error {
		return launchWorker(ctx, worker)
	})
}

func pollOnce(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext()
	defer stop()
	return rt.newPoller().Poll(ctx)
}

func purgeOnce(c *cli.Context) error {
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signalContext()
	defer stop()
	return rt.newPurger().Purge(ctx, time.Now())
}

func repoIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one repo id")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid repo id %q: %w", c.Args().First(), err)
	}
	return id, nil
}

func requestUpdate(c *cli.Context) error {
	id, err := repoIDArg(c)
	if err != nil {
		return err
	}
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	if err := rt.store.RequestUpdate(ctx, id); err != nil {
		return err
	}
	repo, err := rt.store.GetRepo(ctx, id)
	if err != nil {
		return err
	}
	rt.publisher.PostStatus(ctx, model.StateRequested, repo)
	fmt.Printf("Repo %d flagged for update\n", id)
	return nil
}

func showLogs(c *cli.Context) error {
	id, err := repoIDArg(c)
	if err != nil {
		return err
	}
	rt, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	repo, err := rt.store.GetRepo(context.Background(), id)
	if err != nil {
		return err
	}
	logPath := buildworker.LogPath(repo, rt.cfg.ReposRoot)

	ctx, stop := signalContext()
	defer stop()
	return systemutil.StreamLog(ctx, logPath, c.Bool("follow"), os.Stdout)
}

func listInstances(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	ttl := time.Duration(cfg.Monitoring.InstanceTimeout) * time.Second
	registry, err := monitoring.NewRegistry(ctx, cfg.Redis, ttl)
	if err != nil {
		return err
	}
	defer registry.Close()

	instances, err := registry.ListInstances(ctx, monitoring.InstanceType(c.String("type")), "")
	if err != nil {
		return err
	}
	if err := printInstances(os.Stdout, instances); err != nil {
		return err
	}

	summary, err := registry.GetSummary(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d instances, %d online, %d offline\n", summary.Total, summary.Online, summary.Offline)
	return nil
}

func printInstances(out io.Writer, instances []*monitoring.InstanceInfo) error {
	w := tabwriter.NewWriter(out, 6, 4, 3, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATUS\tQUEUE\tTASKS\tCPU\tMEMORY\tDISK\tVERSION")
	for _, i := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%.1f%%\t%s/%s\t%s/%s\t%s\n",
			i.InstanceID, i.Status, i.Queue, i.ActiveTasks, i.Concurrency, i.CPUUsage,
			monitoring.FormatBytes(i.MemoryUsage), monitoring.FormatBytes(i.MemoryTotal),
			monitoring.FormatBytes(i.DiskUsage), monitoring.FormatBytes(i.DiskTotal),
			i.Version)
	}
	return w.Flush()
}
