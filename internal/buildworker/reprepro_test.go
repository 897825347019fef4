package buildworker

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blankon/irgsh-repod/internal/config"
	"github.com/blankon/irgsh-repod/internal/model"
)

type fakeVerifier struct {
	dir, signature, file string
	err                  error
}

func (f *fakeVerifier) Verify(ctx context.Context, dirPath, signature, fileName string) error {
	f.dir, f.signature, f.file = dirPath, signature, fileName
	return f.err
}

func debRepo() *model.Repo {
	return &model.Repo{
		ID:            3,
		Project:       "ceph",
		Ref:           "firefly",
		Sha1:          "head",
		Distro:        "ubuntu",
		DistroVersion: "trusty",
		Type:          model.RepoTypeDEB,
		Binaries: []model.Binary{
			{Name: "ceph_1.0_amd64.deb", Path: "/srv/bin/ceph_1.0_amd64.deb"},
			{Name: "ceph_1.0.dsc", Path: "/srv/bin/ceph_1.0.dsc"},
			{Name: "ceph_1.0.tar.gz", Path: "/srv/bin/ceph_1.0.tar.gz"},
		},
	}
}

func TestRepreproBuilder_Distributions(t *testing.T) {
	cfg := config.RepreproConfig{Components: "main", Architectures: "amd64 source"}
	b := NewRepreproBuilder(cfg, "/srv/repos")

	conf := b.Distributions(debRepo())
	assert.Contains(t, conf, "Codename: trusty\n")
	assert.Contains(t, conf, "Components: main\n")
	assert.Contains(t, conf, "Architectures: amd64 source\n")
	assert.NotContains(t, conf, "SignWith")
	assert.Nil(t, b.verifier)

	cfg.SignWith = "ABCD1234"
	b = NewRepreproBuilder(cfg, "/srv/repos")
	assert.Contains(t, b.Distributions(debRepo()), "SignWith: ABCD1234\n")
	assert.NotNil(t, b.verifier)
}

func TestRepreproBuilder_Script(t *testing.T) {
	b := NewRepreproBuilder(config.RepreproConfig{}, "/srv/repos")
	script := b.Script(debRepo(), "/srv/repos/x")

	assert.Contains(t, script, "reprepro -v -b '/srv/repos/x' includedeb 'trusty' '/srv/bin/ceph_1.0_amd64.deb'")
	assert.Contains(t, script, "includedsc 'trusty' '/srv/bin/ceph_1.0.dsc'")
	assert.NotContains(t, script, "tar.gz")
	assert.Contains(t, script, "reprepro -v -b '/srv/repos/x' export 'trusty'")
}

func TestRepreproBuilder_Build(t *testing.T) {
	root := t.TempDir()
	b := NewRepreproBuilder(config.RepreproConfig{Components: "main", Architectures: "amd64", SignWith: "KEY"}, root)
	b.command = "echo"
	verifier := &fakeVerifier{}
	b.verifier = verifier

	repo := debRepo()
	dir, err := b.Build(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "ceph", "firefly", "head", "ubuntu", "trusty", "default"), dir)

	conf, err := ioutil.ReadFile(filepath.Join(dir, "conf", "distributions"))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "SignWith: KEY")

	logData, err := ioutil.ReadFile(LogPath(repo, root))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "includedeb trusty /srv/bin/ceph_1.0_amd64.deb")
	assert.Contains(t, string(logData), "export trusty")

	assert.Equal(t, filepath.Join(dir, "dists", "trusty"), verifier.dir)
	assert.Equal(t, "Release.gpg", verifier.signature)
	assert.Equal(t, "Release", verifier.file)
}

func TestRepreproBuilder_BuildVerifyFailure(t *testing.T) {
	b := NewRepreproBuilder(config.RepreproConfig{}, t.TempDir())
	b.command = "echo"
	b.verifier = &fakeVerifier{err: errors.New("BAD signature")}

	repo := debRepo()
	_, err := b.Build(context.Background(), repo)
	assert.ErrorContains(t, err, "BAD signature")

	logData, err := ioutil.ReadFile(LogPath(repo, b.reposRoot))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "##### FAILED failed to verify release signature: BAD signature")
}

func TestRepreproBuilder_BuildCommandFailure(t *testing.T) {
	b := NewRepreproBuilder(config.RepreproConfig{}, t.TempDir())
	b.command = "false"

	_, err := b.Build(context.Background(), debRepo())
	assert.Error(t, err)
}
