package monitoring

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// InstanceUpdater stores heartbeats. *Registry satisfies it.
type InstanceUpdater interface {
	UpdateInstance(ctx context.Context, info InstanceInfo) error
}

// TaskCounter counts the tasks a process is running.
type TaskCounter struct {
	n int64
}

// Track wraps a task so it is counted while it runs.
func (c *TaskCounter) Track(fn func() error) error {
	atomic.AddInt64(&c.n, 1)
	defer atomic.AddInt64(&c.n, -1)
	return fn()
}

// Active returns the number of running tasks.
func (c *TaskCounter) Active() int {
	return int(atomic.LoadInt64(&c.n))
}

// Heartbeat periodically advertises a process in the registry.
type Heartbeat struct {
	Updater     InstanceUpdater
	Type        InstanceType
	Queue       string
	Concurrency int
	Interval    time.Duration
	// DiskPath is measured for disk usage
	DiskPath string
	Tasks    *TaskCounter

	sampler Sampler
}

// Run sends a heartbeat immediately and then every Interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	instanceID := GenerateInstanceID(h.Type)
	startTime := time.Now()
	if h.Interval <= 0 {
		h.Interval = 30 * time.Second
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	log.Printf("Monitoring heartbeat started (instance: %s, interval: %v)\n", instanceID, h.Interval)

	h.send(ctx, instanceID, startTime)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.send(ctx, instanceID, startTime)
		}
	}
}

func (h *Heartbeat) send(ctx context.Context, instanceID string, startTime time.Time) {
	metrics := h.sampler.Collect(h.DiskPath)

	active := 0
	if h.Tasks != nil {
		active = h.Tasks.Active()
	}
	instance := InstanceInfo{
		InstanceID:   instanceID,
		InstanceType: h.Type,
		Hostname:     GetHostname(),
		PID:          os.Getpid(),
		Queue:        h.Queue,
		StartTime:    startTime,
		Concurrency:  h.Concurrency,
		ActiveTasks:  active,
		CPUUsage:     metrics.CPUUsage,
		MemoryUsage:  metrics.MemoryUsage,
		MemoryTotal:  metrics.MemoryTotal,
		DiskUsage:    metrics.DiskUsage,
		DiskTotal:    metrics.DiskTotal,
		Version:      GetVersion(),
	}

	if err := h.Updater.UpdateInstance(ctx, instance); err != nil {
		log.Printf("Failed to send heartbeat: %v\n", err)
	}
}

// RunCleanup prunes expired instances every interval until ctx is done.
func RunCleanup(ctx context.Context, registry *Registry, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Instance cleanup job started (interval: %v)\n", interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := registry.CleanupStaleInstances(ctx); err != nil {
				log.Printf("Failed to cleanup stale instances: %v\n", err)
			}
		}
	}
}
