// Package poller decides which repos need a build and dispatches them.
package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/blankon/irgsh-repod/internal/metrics"
	"github.com/blankon/irgsh-repod/internal/model"
)

// Store is the subset of storage.RepoStore used by a poll cycle.
type Store interface {
	ListPending(ctx context.Context) ([]*model.Repo, error)
	MarkQueued(ctx context.Context, id int64) (bool, error)
	ReleaseClaim(ctx context.Context, id int64) error
	SetType(ctx context.Context, id int64, t model.RepoType) error
	ReleaseExpiredBuilds(ctx context.Context, olderThan time.Time) ([]int64, error)
}

// Dispatcher submits a build job for a claimed repo.
type Dispatcher interface {
	Dispatch(ctx context.Context, repo *model.Repo) error
}

// StatusPublisher emits repo state changes.
type StatusPublisher interface {
	PostStatus(ctx context.Context, state model.State, repo *model.Repo)
}

// Poller runs poll cycles.
type Poller struct {
	store        Store
	dispatcher   Dispatcher
	publisher    StatusPublisher
	buildTimeout time.Duration
	recorder     metrics.Recorder
	now          func() time.Time
}

// New creates a Poller. A zero buildTimeout disables lease expiry.
func New(store Store, dispatcher Dispatcher, publisher StatusPublisher, buildTimeout time.Duration, recorder metrics.Recorder) *Poller {
	return &Poller{
		store:        store,
		dispatcher:   dispatcher,
		publisher:    publisher,
		buildTimeout: buildTimeout,
		recorder:     metrics.OrNoop(recorder),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for lease expiry.
func (p *Poller) SetClock(now func() time.Time) { p.now = now }

// PollTask is registered as the poll_repos periodic task.
func (p *Poller) PollTask() error {
	return p.Poll(context.Background())
}

// Poll runs one cycle. Each repo is committed on its own, so an error
// returned here leaves the repos handled before it in their new state.
func (p *Poller) Poll(ctx context.Context) error {
	start := p.now()
	defer func() { p.recorder.ObservePollDuration(p.now().Sub(start)) }()

	if p.buildTimeout > 0 {
		released, err := p.store.ReleaseExpiredBuilds(ctx, start.Add(-p.buildTimeout))
		if err != nil {
			return err
		}
		for _, id := range released {
			log.Printf("Build lease of repo %d expired after %v, released\n", id, p.buildTimeout)
			p.recorder.IncPollDecision(metrics.DecisionLeaseReleased)
		}
	}

	repos, err := p.store.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pollRepo(ctx, repo); err != nil {
			log.Printf("Failed to poll repo %d: %v\n", repo.ID, err)
			return err
		}
	}
	return nil
}

func (p *Poller) pollRepo(ctx context.Context, repo *model.Repo) error {
	if repo.IsUpdating {
		log.Printf("Repo %d is already updating, skipping\n", repo.ID)
		p.recorder.IncPollDecision(metrics.DecisionSkippedUpdating)
		return nil
	}

	if !repo.Type.Known() {
		inferred, ok := repo.InferType()
		if !ok {
			log.Printf("Warning: repo %d has unknown type and no binary to infer it from\n", repo.ID)
			p.recorder.IncPollDecision(metrics.DecisionInferenceFailed)
			return nil
		}
		if err := p.store.SetType(ctx, repo.ID, inferred); err != nil {
			return err
		}
		log.Printf("Inferred type %s for repo %d, build deferred to next poll\n", inferred, repo.ID)
		p.recorder.IncPollDecision(metrics.DecisionTypeInferred)
		return nil
	}

	claimed, err := p.store.MarkQueued(ctx, repo.ID)
	if err != nil {
		return err
	}
	if !claimed {
		p.recorder.IncPollDecision(metrics.DecisionClaimLost)
		return nil
	}
	repo.IsQueued = true

	p.publisher.PostStatus(ctx, model.StateQueued, repo)

	if err := p.dispatcher.Dispatch(ctx, repo); err != nil {
		if releaseErr := p.store.ReleaseClaim(ctx, repo.ID); releaseErr != nil {
			log.Printf("Failed to release claim of repo %d: %v\n", repo.ID, releaseErr)
		}
		return fmt.Errorf("failed to dispatch repo %d: %w", repo.ID, err)
	}
	log.Printf("Repo %d (%s) queued for build\n", repo.ID, repo.Type)
	p.recorder.IncPollDecision(metrics.DecisionDispatched)
	return nil
}
