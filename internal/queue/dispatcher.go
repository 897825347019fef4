package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/google/uuid"

	"github.com/blankon/irgsh-repod/internal/model"
)

// ErrUnknownRepoType is returned when no builder exists for the repo type.
var ErrUnknownRepoType = errors.New("unknown repo type")

// Dispatcher submits delayed build jobs for claimed repos.
type Dispatcher struct {
	sender    Sender
	quietTime time.Duration
	now       func() time.Time
}

// NewDispatcher creates a dispatcher delaying every job by quietTime.
func NewDispatcher(sender Sender, quietTime time.Duration) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		quietTime: quietTime,
		now:       time.Now,
	}
}

// SetClock replaces the time source used to compute the ETA.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// BuildTaskName returns the build task for a repo type.
func BuildTaskName(t model.RepoType) (string, error) {
	switch t {
	case model.RepoTypeRPM:
		return TaskBuildRPM, nil
	case model.RepoTypeDEB:
		return TaskBuildDEB, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRepoType, string(t))
}

// Dispatch sends exactly one build job for the repo. The job result is not awaited.
func (d *Dispatcher) Dispatch(ctx context.Context, repo *model.Repo) error {
	name, err := BuildTaskName(repo.Type)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	eta := d.now().Add(d.quietTime)
	signature := &tasks.Signature{
		UUID:       "task_" + uuid.New().String(),
		Name:       name,
		RoutingKey: BuildQueue,
		ETA:        &eta,
		Args: []tasks.Arg{
			{
				Type:  "int64",
				Value: repo.ID,
			},
		},
	}
	if _, err := d.sender.SendTask(signature); err != nil {
		return fmt.Errorf("failed to send %s for repo %d: %w", name, repo.ID, err)
	}
	return nil
}
