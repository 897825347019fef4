package monitoring

import "time"

// InstanceType represents the kind of repod process
type InstanceType string

const (
	InstanceTypeScheduler InstanceType = "scheduler"
	InstanceTypeWorker    InstanceType = "worker"
	InstanceTypeBuilder   InstanceType = "builder"
)

// InstanceStatus represents the current state of an instance
type InstanceStatus string

const (
	StatusOnline  InstanceStatus = "online"
	StatusOffline InstanceStatus = "offline"
)

// InstanceInfo contains metadata about a repod process
type InstanceInfo struct {
	// Identity
	InstanceID   string       `json:"instance_id"`   // hostname-type
	InstanceType InstanceType `json:"instance_type"` // scheduler, worker, builder
	Hostname     string       `json:"hostname"`
	PID          int          `json:"pid"`
	Queue        string       `json:"queue,omitempty"`

	// Timing
	StartTime     time.Time `json:"start_time"`
	LastHeartbeat time.Time `json:"last_heartbeat"`

	Status InstanceStatus `json:"status"`

	// Capacity
	Concurrency int `json:"concurrency"`
	ActiveTasks int `json:"active_tasks"`

	// System Metrics
	CPUUsage    float64 `json:"cpu_usage"`    // CPU percentage (0-100)
	MemoryUsage uint64  `json:"memory_usage"` // bytes
	MemoryTotal uint64  `json:"memory_total"`
	DiskUsage   uint64  `json:"disk_usage"` // of the repos root
	DiskTotal   uint64  `json:"disk_total"`

	Version string `json:"version"`
}

// InstanceSummary provides aggregate statistics
type InstanceSummary struct {
	Total   int            `json:"total"`
	Online  int            `json:"online"`
	Offline int            `json:"offline"`
	ByType  map[string]int `json:"by_type"`
}
