package storage

// Timestamps are stored as unix nanoseconds so range comparisons stay exact.
const schema = `
CREATE TABLE IF NOT EXISTS repos (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    ref TEXT NOT NULL DEFAULT '',
    sha1 TEXT NOT NULL DEFAULT 'head',
    distro TEXT NOT NULL DEFAULT '',
    distro_version TEXT NOT NULL DEFAULT '',
    flavor TEXT NOT NULL DEFAULT 'default',
    type TEXT NOT NULL DEFAULT '',
    needs_update BOOLEAN NOT NULL DEFAULT TRUE,
    is_queued BOOLEAN NOT NULL DEFAULT FALSE,
    is_updating BOOLEAN NOT NULL DEFAULT FALSE,
    updating_since INTEGER,
    build_lease INTEGER NOT NULL DEFAULT 0,
    path TEXT,
    extra TEXT NOT NULL DEFAULT '{}',
    modified INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS binaries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id INTEGER NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_repos_pending ON repos(needs_update, is_queued);
CREATE INDEX IF NOT EXISTS idx_repos_modified ON repos(modified);
CREATE INDEX IF NOT EXISTS idx_repos_updating ON repos(is_updating, updating_since);
CREATE INDEX IF NOT EXISTS idx_binaries_repo_id ON binaries(repo_id);
`
