package buildworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blankon/irgsh-repod/internal/metrics"
	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/internal/storage"
)

type fakePublisher struct {
	mu     sync.Mutex
	states []model.State
	paths  []string
}

func (f *fakePublisher) PostStatus(ctx context.Context, state model.State, repo *model.Repo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	f.paths = append(f.paths, repo.Path)
}

type fakeBuilder struct {
	calls int
	path  string
	err   error
	// seen is the repo state observed while building
	seen *model.Repo
	get  func() *model.Repo
	// run, when set, replaces the canned result
	run func(ctx context.Context) error
}

func (f *fakeBuilder) Build(ctx context.Context, repo *model.Repo) (string, error) {
	f.calls++
	if f.get != nil {
		f.seen = f.get()
	}
	if f.run != nil {
		return f.path, f.run(ctx)
	}
	return f.path, f.err
}

type fixture struct {
	store     *storage.RepoStore
	publisher *fakePublisher
	rpm       *fakeBuilder
	worker    *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:     storage.NewRepoStore(db),
		publisher: &fakePublisher{},
		rpm:       &fakeBuilder{path: "/srv/repos/ceph/rpm"},
	}
	f.worker = New(f.store, f.publisher, map[model.RepoType]Builder{model.RepoTypeRPM: f.rpm}, 0, nil)
	return f
}

func (f *fixture) queuedRepo(t *testing.T, repoType model.RepoType) *model.Repo {
	t.Helper()
	repo := &model.Repo{Project: "ceph", Type: repoType, NeedsUpdate: true, IsQueued: true}
	require.NoError(t, f.store.CreateRepo(context.Background(), repo))
	return repo
}

func (f *fixture) get(t *testing.T, id int64) *model.Repo {
	t.Helper()
	repo, err := f.store.GetRepo(context.Background(), id)
	require.NoError(t, err)
	return repo
}

func TestWorker_BuildSuccess(t *testing.T) {
	f := newFixture(t)
	repo := f.queuedRepo(t, model.RepoTypeRPM)
	f.rpm.get = func() *model.Repo { return f.get(t, repo.ID) }

	require.NoError(t, f.worker.BuildRPMTask(repo.ID))

	require.NotNil(t, f.rpm.seen)
	assert.False(t, f.rpm.seen.IsQueued)
	assert.True(t, f.rpm.seen.IsUpdating)
	assert.NotNil(t, f.rpm.seen.UpdatingSince)

	got := f.get(t, repo.ID)
	assert.Equal(t, "/srv/repos/ceph/rpm", got.Path)
	assert.False(t, got.NeedsUpdate)
	assert.False(t, got.IsUpdating)
	assert.False(t, got.IsQueued)
	assert.Equal(t, []model.State{model.StateBuilding, model.StateReady}, f.publisher.states)
	assert.Equal(t, "/srv/repos/ceph/rpm", f.publisher.paths[1])
}

func TestWorker_BuildFailureKeepsRepoPending(t *testing.T) {
	f := newFixture(t)
	repo := f.queuedRepo(t, model.RepoTypeRPM)
	f.rpm.err = errors.New("createrepo failed")

	err := f.worker.Build(context.Background(), repo.ID, model.RepoTypeRPM)
	assert.ErrorIs(t, err, f.rpm.err)

	got := f.get(t, repo.ID)
	assert.True(t, got.NeedsUpdate)
	assert.False(t, got.IsUpdating)
	assert.Nil(t, got.UpdatingSince)
	assert.False(t, got.IsQueued)
	assert.Equal(t, []model.State{model.StateBuilding, model.StateFailed}, f.publisher.states)
}

func TestWorker_DuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture(t)
	repo := f.queuedRepo(t, model.RepoTypeRPM)

	require.NoError(t, f.worker.BuildRPMTask(repo.ID))
	require.NoError(t, f.worker.BuildRPMTask(repo.ID))

	assert.Equal(t, 1, f.rpm.calls)
	assert.Len(t, f.publisher.states, 2)
}

func TestWorker_MissingRepoIsDropped(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.worker.BuildRPMTask(404))
	assert.Zero(t, f.rpm.calls)
	assert.Empty(t, f.publisher.states)
}

func TestWorker_NoBuilderForType(t *testing.T) {
	f := newFixture(t)
	repo := f.queuedRepo(t, model.RepoTypeDEB)

	err := f.worker.BuildDEBTask(repo.ID)
	assert.ErrorIs(t, err, ErrNoBuilder)

	got := f.get(t, repo.ID)
	assert.False(t, got.IsUpdating)
	assert.True(t, got.NeedsUpdate)
	assert.Equal(t, []model.State{model.StateFailed}, f.publisher.states)
}

func TestWorker_ConcurrentDeliveriesBuildOnce(t *testing.T) {
	f := newFixture(t)
	repo := f.queuedRepo(t, model.RepoTypeRPM)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// fakeBuilder is not goroutine safe
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, f.worker.BuildRPMTask(repo.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.rpm.calls)
}

type buildRecorder struct {
	metrics.NoopRecorder
	durations []time.Duration
	outcomes  []bool
}

func (r *buildRecorder) ObserveBuildDuration(repoType string, d time.Duration) {
	r.durations = append(r.durations, d)
}

func (r *buildRecorder) IncBuildOutcome(repoType string, success bool) {
	r.outcomes = append(r.outcomes, success)
}

func TestWorker_RecordsBuildMetrics(t *testing.T) {
	f := newFixture(t)
	rec := &buildRecorder{}
	f.worker = New(f.store, f.publisher, map[model.RepoType]Builder{model.RepoTypeRPM: f.rpm}, 0, rec)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.worker.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ok := f.queuedRepo(t, model.RepoTypeRPM)
	require.NoError(t, f.worker.BuildRPMTask(ok.ID))

	f.rpm.err = errors.New("boom")
	failed := f.queuedRepo(t, model.RepoTypeRPM)
	require.Error(t, f.worker.BuildRPMTask(failed.ID))

	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.durations)
	assert.Equal(t, []bool{true, false}, rec.outcomes)
}

func TestWorker_BuildTimeoutCancelsBuilder(t *testing.T) {
	f := newFixture(t)
	f.worker = New(f.store, f.publisher, map[model.RepoType]Builder{model.RepoTypeRPM: f.rpm}, 20*time.Millisecond, nil)
	f.rpm.run = func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return ctx.Err()
	}
	repo := f.queuedRepo(t, model.RepoTypeRPM)

	err := f.worker.BuildRPMTask(repo.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := f.get(t, repo.ID)
	assert.False(t, got.IsUpdating)
	assert.True(t, got.NeedsUpdate)
	assert.Equal(t, []model.State{model.StateBuilding, model.StateFailed}, f.publisher.states)
}

func TestWorker_StaleLeaseResultIsDropped(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "success"},
		{name: "failure", err: errors.New("createrepo failed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			repo := f.queuedRepo(t, model.RepoTypeRPM)

			// while building, the lease expires and a newer build takes the repo
			f.rpm.run = func(ctx context.Context) error {
				_, err := f.store.ReleaseExpiredBuilds(ctx, time.Now().Add(time.Hour))
				require.NoError(t, err)
				ok, err := f.store.MarkQueued(ctx, repo.ID)
				require.NoError(t, err)
				require.True(t, ok)
				_, ok, err = f.store.StartBuild(ctx, repo.ID)
				require.NoError(t, err)
				require.True(t, ok)
				return tt.err
			}

			err := f.worker.BuildRPMTask(repo.ID)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}

			got := f.get(t, repo.ID)
			assert.True(t, got.IsUpdating)
			assert.True(t, got.NeedsUpdate)
			assert.Empty(t, got.Path)
			assert.Equal(t, []model.State{model.StateBuilding}, f.publisher.states)
		})
	}
}
