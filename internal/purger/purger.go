// Package purger deletes repos that have not changed within the retention window.
package purger

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/blankon/irgsh-repod/internal/metrics"
	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/internal/storage"
)

// RetentionWindow is how long an unmodified repo is kept.
const RetentionWindow = 14 * 24 * time.Hour

// Store is the subset of storage.RepoStore used by a purge cycle.
type Store interface {
	ListStale(ctx context.Context, boundary time.Time) ([]*model.Repo, error)
	InRepoTx(ctx context.Context, fn func(tx *storage.RepoTx) error) error
}

// StatusPublisher emits repo state changes.
type StatusPublisher interface {
	PostStatus(ctx context.Context, state model.State, repo *model.Repo)
}

// Purger runs purge cycles.
type Purger struct {
	store     Store
	publisher StatusPublisher
	fs        afero.Fs
	enabled   bool
	recorder  metrics.Recorder
}

// New creates a Purger. Nothing is deleted unless enabled is set.
func New(store Store, publisher StatusPublisher, fs afero.Fs, enabled bool, recorder metrics.Recorder) *Purger {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Purger{
		store:     store,
		publisher: publisher,
		fs:        fs,
		enabled:   enabled,
		recorder:  metrics.OrNoop(recorder),
	}
}

// PurgeTask is registered as the purge_repos periodic task.
func (p *Purger) PurgeTask() error {
	return p.Purge(context.Background(), time.Now())
}

// Purge deletes every repo last modified before now minus the retention
// window. Each repo is committed on its own; the first error stops the cycle.
func (p *Purger) Purge(ctx context.Context, now time.Time) error {
	if !p.enabled {
		log.Println("Purging repos is disabled, skipping")
		return nil
	}

	boundary := now.Add(-RetentionWindow)
	repos, err := p.store.ListStale(ctx, boundary)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		return nil
	}
	log.Printf("Purging %d repos modified before %s\n", len(repos), boundary.Format(time.RFC3339))

	purged := 0
	defer func() { p.recorder.IncPurgedRepos(purged) }()
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.purgeRepo(ctx, repo); err != nil {
			log.Printf("Failed to purge repo %d: %v\n", repo.ID, err)
			return err
		}
		purged++
	}
	return nil
}

func (p *Purger) purgeRepo(ctx context.Context, repo *model.Repo) error {
	return p.store.InRepoTx(ctx, func(tx *storage.RepoTx) error {
		for _, b := range repo.Binaries {
			if b.Path != "" {
				if err := p.fs.Remove(b.Path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove binary %s of repo %d: %w", b.Path, repo.ID, err)
				}
			}
			if err := tx.DeleteBinary(ctx, b.ID); err != nil {
				return err
			}
		}

		if repo.Path != "" {
			if err := p.fs.RemoveAll(repo.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove directory %s of repo %d: %w", repo.Path, repo.ID, err)
			}
		}

		p.publisher.PostStatus(ctx, model.StateDeleted, repo)
		return tx.DeleteRepo(ctx, repo.ID)
	})
}
