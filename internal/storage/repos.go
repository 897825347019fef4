package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/blankon/irgsh-repod/internal/model"
)

// ErrRepoNotFound is returned when no repo row matches the given id.
var ErrRepoNotFound = errors.New("repo not found")

const repoColumns = `
	id, project, ref, sha1, distro, distro_version, flavor, type,
	needs_update, is_queued, is_updating, updating_since, path, extra, modified
`

// RepoStore persists repos and their binaries. Every mutation touches a
// single repo so one repo's failure never rolls back another's progress.
type RepoStore struct {
	db  *DB
	now func() time.Time
}

// NewRepoStore creates a new repo store
func NewRepoStore(db *DB) *RepoStore {
	return &RepoStore{
		db:  db,
		now: time.Now,
	}
}

// SetClock replaces the time source used for modified and lease timestamps.
func (s *RepoStore) SetClock(now func() time.Time) { s.now = now }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepo(row rowScanner) (*model.Repo, error) {
	var (
		r             model.Repo
		repoType      string
		updatingSince sql.NullInt64
		path          sql.NullString
		extra         string
		modified      int64
	)
	err := row.Scan(
		&r.ID, &r.Project, &r.Ref, &r.Sha1, &r.Distro, &r.DistroVersion, &r.Flavor, &repoType,
		&r.NeedsUpdate, &r.IsQueued, &r.IsUpdating, &updatingSince, &path, &extra, &modified,
	)
	if err != nil {
		return nil, err
	}
	r.Type = model.ParseRepoType(repoType)
	if updatingSince.Valid {
		t := time.Unix(0, updatingSince.Int64).UTC()
		r.UpdatingSince = &t
	}
	r.Path = path.String
	r.Modified = time.Unix(0, modified).UTC()
	if extra != "" {
		// extra belongs to whoever writes the repo record, a bad value must
		// not hide the repo from poll and purge
		if err := json.Unmarshal([]byte(extra), &r.Extra); err != nil {
			log.Printf("Failed to decode extra of repo %d, ignoring it: %v\n", r.ID, err)
			r.Extra = nil
		}
	}
	if r.Extra == nil {
		r.Extra = map[string]interface{}{}
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateRepo inserts a repo and sets its ID. A zero Modified is set to now.
func (s *RepoStore) CreateRepo(ctx context.Context, r *model.Repo) error {
	if r.Modified.IsZero() {
		r.Modified = s.now().UTC()
	}
	if r.Flavor == "" {
		r.Flavor = "default"
	}
	if r.Sha1 == "" {
		r.Sha1 = "head"
	}
	extra := r.Extra
	if extra == nil {
		extra = map[string]interface{}{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to encode extra: %w", err)
	}

	query := `
		INSERT INTO repos (
			project, ref, sha1, distro, distro_version, flavor, type,
			needs_update, is_queued, is_updating, path, extra, modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		r.Project, r.Ref, r.Sha1, r.Distro, r.DistroVersion, r.Flavor, string(r.Type),
		r.NeedsUpdate, r.IsQueued, r.IsUpdating, nullString(r.Path), string(extraJSON), r.Modified.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create repo: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get repo id: %w", err)
	}
	return nil
}

// AddBinary attaches a binary to a repo.
func (s *RepoStore) AddBinary(ctx context.Context, repoID int64, name, path string) (*model.Binary, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO binaries (repo_id, name, path) VALUES (?, ?, ?)`,
		repoID, name, path,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add binary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get binary id: %w", err)
	}
	return &model.Binary{ID: id, RepoID: repoID, Name: name, Path: path}, nil
}

// GetRepo retrieves a repo and its binaries.
func (s *RepoStore) GetRepo(ctx context.Context, id int64) (*model.Repo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repos WHERE id = ?`, id)
	r, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrRepoNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repo: %w", err)
	}
	if err := s.loadBinaries(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListPending returns repos flagged for update that are not queued yet,
// including the ones currently updating.
func (s *RepoStore) ListPending(ctx context.Context) ([]*model.Repo, error) {
	return s.listRepos(ctx, `WHERE needs_update = 1 AND is_queued = 0 ORDER BY id`)
}

// ListStale returns repos last modified strictly before boundary.
func (s *RepoStore) ListStale(ctx context.Context, boundary time.Time) ([]*model.Repo, error) {
	return s.listRepos(ctx, `WHERE modified < ? ORDER BY id`, boundary.UnixNano())
}

func (s *RepoStore) listRepos(ctx context.Context, where string, args ...interface{}) ([]*model.Repo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repoColumns+` FROM repos `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repos: %w", err)
	}

	var repos []*model.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan repo: %w", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating repos: %w", err)
	}
	// the single pooled connection has to be released before loading binaries
	rows.Close()

	for _, r := range repos {
		if err := s.loadBinaries(ctx, r); err != nil {
			return nil, err
		}
	}
	return repos, nil
}

func (s *RepoStore) loadBinaries(ctx context.Context, r *model.Repo) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_id, name, path FROM binaries WHERE repo_id = ? ORDER BY id`, r.ID)
	if err != nil {
		return fmt.Errorf("failed to list binaries: %w", err)
	}
	defer rows.Close()

	r.Binaries = nil
	for rows.Next() {
		var b model.Binary
		if err := rows.Scan(&b.ID, &b.RepoID, &b.Name, &b.Path); err != nil {
			return fmt.Errorf("failed to scan binary: %w", err)
		}
		r.Binaries = append(r.Binaries, b)
	}
	return rows.Err()
}

// MarkQueued claims a repo for dispatch. The update only applies when the
// repo is still eligible, so concurrent pollers cannot both claim it.
func (s *RepoStore) MarkQueued(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repos SET is_queued = 1
		WHERE id = ? AND needs_update = 1 AND is_queued = 0 AND is_updating = 0
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark repo queued: %w", err)
	}
	return affected(res)
}

// ReleaseClaim undoes MarkQueued for a repo whose build job could not be sent.
func (s *RepoStore) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repos SET is_queued = 0 WHERE id = ? AND is_queued = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to release repo claim: %w", err)
	}
	return nil
}

// SetType persists an inferred type. A type set in the meantime is kept.
func (s *RepoStore) SetType(ctx context.Context, id int64, t model.RepoType) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repos SET type = ? WHERE id = ? AND type NOT IN ('rpm', 'deb')`, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to set repo type: %w", err)
	}
	return nil
}

// RequestUpdate flags a repo for rebuilding, the way the CRUD surface does on
// update or recreate.
func (s *RepoStore) RequestUpdate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repos SET needs_update = 1, is_queued = 0, modified = ?
		WHERE id = ?
	`, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to request repo update: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrRepoNotFound, id)
	}
	return nil
}

// StartBuild moves a queued repo to updating and starts a new lease. The
// returned lease fences FinishBuild and FailBuild: once the lease expired or
// another build started, the old build can no longer change the repo.
// It reports false when the repo is gone, not queued or already updating,
// which is how duplicate job deliveries are absorbed.
func (s *RepoStore) StartBuild(ctx context.Context, id int64) (int64, bool, error) {
	var lease int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE repos SET is_queued = 0, is_updating = 1, updating_since = ?, build_lease = build_lease + 1
		WHERE id = ? AND is_queued = 1 AND is_updating = 0
		RETURNING build_lease
	`, s.now().UnixNano(), id).Scan(&lease)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to start build: %w", err)
	}
	return lease, true, nil
}

// FinishBuild records a successful build held under lease. needs_update is
// kept when the repo was modified after the build started. It reports false
// when the lease is no longer current.
func (s *RepoStore) FinishBuild(ctx context.Context, id, lease int64, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repos SET
			path = ?,
			needs_update = CASE WHEN modified > updating_since THEN 1 ELSE 0 END,
			is_updating = 0,
			updating_since = NULL,
			modified = ?
		WHERE id = ? AND is_updating = 1 AND build_lease = ?
	`, nullString(path), s.now().UnixNano(), id, lease)
	if err != nil {
		return false, fmt.Errorf("failed to finish build: %w", err)
	}
	return affected(res)
}

// FailBuild releases the updating flag after a failed build held under
// lease. needs_update stays set so the next poll retries. It reports false
// when the lease is no longer current.
func (s *RepoStore) FailBuild(ctx context.Context, id, lease int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE repos SET is_updating = 0, updating_since = NULL
		WHERE id = ? AND is_updating = 1 AND build_lease = ?
	`, id, lease)
	if err != nil {
		return false, fmt.Errorf("failed to release build: %w", err)
	}
	return affected(res)
}

// ReleaseExpiredBuilds clears is_updating on repos whose lease started
// before olderThan and returns their ids.
func (s *RepoStore) ReleaseExpiredBuilds(ctx context.Context, olderThan time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM repos WHERE is_updating = 1 AND updating_since < ?`, olderThan.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to list expired builds: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan expired build: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE repos SET is_updating = 0, updating_since = NULL
			WHERE is_updating = 1 AND updating_since < ?
		`, olderThan.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to release expired builds: %w", err)
		}
		return nil
	})
	return ids, err
}

// RepoTx scopes row deletions of a single repo purge to one transaction.
type RepoTx struct {
	tx *sql.Tx
}

// DeleteBinary removes a binary row.
func (t *RepoTx) DeleteBinary(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM binaries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete binary %d: %w", id, err)
	}
	return nil
}

// DeleteRepo removes a repo row and anything still referencing it.
func (t *RepoTx) DeleteRepo(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM binaries WHERE repo_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete binaries of repo %d: %w", id, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM repos WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete repo %d: %w", id, err)
	}
	return nil
}

// InRepoTx runs fn in a transaction committed when fn returns nil and rolled
// back otherwise. fn must not call other RepoStore methods.
func (s *RepoStore) InRepoTx(ctx context.Context, fn func(tx *RepoTx) error) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&RepoTx{tx: tx})
	})
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
