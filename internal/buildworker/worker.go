// Package buildworker runs repo builds on the builder side of the queue.
package buildworker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/blankon/irgsh-repod/internal/metrics"
	"github.com/blankon/irgsh-repod/internal/model"
)

// ErrNoBuilder is returned when no builder is configured for the repo type.
var ErrNoBuilder = errors.New("no builder configured")

// Store is the subset of storage.RepoStore a build needs.
type Store interface {
	GetRepo(ctx context.Context, id int64) (*model.Repo, error)
	StartBuild(ctx context.Context, id int64) (int64, bool, error)
	FinishBuild(ctx context.Context, id, lease int64, path string) (bool, error)
	FailBuild(ctx context.Context, id, lease int64) (bool, error)
}

// StatusPublisher emits repo state changes.
type StatusPublisher interface {
	PostStatus(ctx context.Context, state model.State, repo *model.Repo)
}

// Builder produces the repository metadata of repo and returns its path.
type Builder interface {
	Build(ctx context.Context, repo *model.Repo) (string, error)
}

// Worker holds the flag protocol around a Builder.
type Worker struct {
	store        Store
	publisher    StatusPublisher
	builders     map[model.RepoType]Builder
	buildTimeout time.Duration
	recorder     metrics.Recorder
	now          func() time.Time
}

// New creates a Worker. A build running longer than buildTimeout is
// cancelled, the same timeout after which the poller releases its lease.
// Zero means no limit.
func New(store Store, publisher StatusPublisher, builders map[model.RepoType]Builder, buildTimeout time.Duration, recorder metrics.Recorder) *Worker {
	return &Worker{
		store:        store,
		publisher:    publisher,
		builders:     builders,
		buildTimeout: buildTimeout,
		recorder:     metrics.OrNoop(recorder),
		now:          time.Now,
	}
}

// BuildRPMTask is registered as build_rpm_repo.
func (w *Worker) BuildRPMTask(repoID int64) error {
	return w.Build(context.Background(), repoID, model.RepoTypeRPM)
}

// BuildDEBTask is registered as build_deb_repo.
func (w *Worker) BuildDEBTask(repoID int64) error {
	return w.Build(context.Background(), repoID, model.RepoTypeDEB)
}

// Build runs one build job. A job for a repo that is not queued, or already
// building, is a duplicate delivery and is dropped. Results of a build whose
// lease was released in the meantime are dropped too.
func (w *Worker) Build(ctx context.Context, repoID int64, taskType model.RepoType) error {
	lease, started, err := w.store.StartBuild(ctx, repoID)
	if err != nil {
		return err
	}
	if !started {
		log.Printf("Repo %d is not queued or already building, dropping job\n", repoID)
		return nil
	}

	repo, err := w.store.GetRepo(ctx, repoID)
	if err != nil {
		w.release(ctx, repoID, lease)
		return err
	}
	if repo.Type != taskType {
		log.Printf("Warning: repo %d has type %q but was sent as %q\n", repo.ID, repo.Type, taskType)
	}

	builder, ok := w.builders[repo.Type]
	if !ok || builder == nil {
		w.fail(ctx, repo, lease)
		return fmt.Errorf("%w for type %q (repo %d)", ErrNoBuilder, repo.Type, repo.ID)
	}

	w.publisher.PostStatus(ctx, model.StateBuilding, repo)
	log.Printf("Building %s repo %d\n", repo.Type, repo.ID)

	buildCtx := ctx
	if w.buildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, w.buildTimeout)
		defer cancel()
	}

	start := w.now()
	path, err := builder.Build(buildCtx, repo)
	w.recorder.ObserveBuildDuration(string(repo.Type), w.now().Sub(start))
	if err != nil {
		w.fail(ctx, repo, lease)
		return fmt.Errorf("failed to build repo %d: %w", repo.ID, err)
	}

	finished, err := w.store.FinishBuild(ctx, repo.ID, lease, path)
	if err != nil {
		w.fail(ctx, repo, lease)
		return err
	}
	if !finished {
		log.Printf("Build lease of repo %d is gone, dropping result at %s\n", repo.ID, path)
		return nil
	}
	w.recorder.IncBuildOutcome(string(repo.Type), true)
	log.Printf("Repo %d built at %s\n", repo.ID, path)

	if built, err := w.store.GetRepo(ctx, repo.ID); err == nil {
		repo = built
	} else {
		repo.Path = path
		repo.IsUpdating = false
	}
	w.publisher.PostStatus(ctx, model.StateReady, repo)
	return nil
}

func (w *Worker) fail(ctx context.Context, repo *model.Repo, lease int64) {
	w.recorder.IncBuildOutcome(string(repo.Type), false)
	if !w.release(ctx, repo.ID, lease) {
		return
	}
	repo.IsUpdating = false
	repo.UpdatingSince = nil
	w.publisher.PostStatus(ctx, model.StateFailed, repo)
}

// release clears the updating flag held under lease and reports whether the
// lease was still current.
func (w *Worker) release(ctx context.Context, repoID, lease int64) bool {
	released, err := w.store.FailBuild(ctx, repoID, lease)
	if err != nil {
		log.Printf("Failed to release build of repo %d: %v\n", repoID, err)
		return false
	}
	if !released {
		log.Printf("Build lease of repo %d is gone, leaving its state alone\n", repoID)
	}
	return released
}
