package buildworker

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blankon/irgsh-repod/internal/model"
)

func TestExecBuilder_Build(t *testing.T) {
	root := t.TempDir()
	b := NewExecBuilder(`echo "$REPO_TYPE $REPO_ID" > "$REPO_DIR/info"; printf '%s' "$REPO_BINARIES" > "$REPO_DIR/binaries"`, root)

	repo := &model.Repo{
		ID:            7,
		Project:       "ceph",
		Ref:           "main",
		Sha1:          "head",
		Distro:        "centos",
		DistroVersion: "9",
		Type:          model.RepoTypeRPM,
		Binaries: []model.Binary{
			{Name: "a.rpm", Path: "/srv/binaries/a.rpm"},
			{Name: "b.rpm", Path: "/srv/binaries/b.rpm"},
		},
	}

	path, err := b.Build(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "ceph", "main", "head", "centos", "9", "default"), path)

	info, err := ioutil.ReadFile(filepath.Join(path, "info"))
	require.NoError(t, err)
	assert.Equal(t, "rpm 7\n", string(info))

	binaries, err := ioutil.ReadFile(filepath.Join(path, "binaries"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/binaries/a.rpm\n/srv/binaries/b.rpm", string(binaries))

	logData, err := ioutil.ReadFile(b.LogPath(repo))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "##### Build rpm repo 7")
	assert.Contains(t, string(logData), "##### DONE\n")
}

func TestExecBuilder_UsesExistingPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "existing")
	b := NewExecBuilder("true", "/nonexistent")

	path, err := b.Build(context.Background(), &model.Repo{ID: 1, Type: model.RepoTypeDEB, Path: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, path)
	assert.Equal(t, dir+".build.log", b.LogPath(&model.Repo{Path: dir}))
}

func TestExecBuilder_CommandFailure(t *testing.T) {
	b := NewExecBuilder("exit 1", t.TempDir())
	repo := &model.Repo{ID: 1, Project: "ceph", Type: model.RepoTypeDEB}

	_, err := b.Build(context.Background(), repo)
	assert.Error(t, err)

	logData, err := ioutil.ReadFile(b.LogPath(repo))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "##### FAILED exit status 1")
}
