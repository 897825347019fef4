// Package queue wires repod to the machinery task queue and routes builds.
package queue

import (
	machinery "github.com/RichardKnop/machinery/v1"
	"github.com/RichardKnop/machinery/v1/backends/result"
	machineryConfig "github.com/RichardKnop/machinery/v1/config"
	"github.com/RichardKnop/machinery/v1/tasks"
)

// Task names registered on the queue.
const (
	TaskPoll     = "poll_repos"
	TaskPurge    = "purge_repos"
	TaskBuildRPM = "build_rpm_repo"
	TaskBuildDEB = "build_deb_repo"
	TaskCallback = "callback"
)

const (
	// DefaultQueue carries periodic tasks and callbacks.
	DefaultQueue = "repod"
	// BuildQueue is the routing key shared by both build tasks.
	BuildQueue = "build_repos"
)

// Sender submits signatures to the broker. *machinery.Server satisfies it.
type Sender interface {
	SendTask(signature *tasks.Signature) (*result.AsyncResult, error)
}

// NewServer creates a machinery server using redis as broker, result backend
// and periodic task lock.
func NewServer(redisURL string) (*machinery.Server, error) {
	return machinery.NewServer(
		&machineryConfig.Config{
			Broker:        redisURL,
			ResultBackend: redisURL,
			Lock:          redisURL,
			DefaultQueue:  DefaultQueue,
		},
	)
}
