package buildworker

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/blankon/irgsh-repod/internal/config"
	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/pkg/easygpg"
	"github.com/blankon/irgsh-repod/pkg/systemutil"
)

// RepreproBuilder builds deb repos with reprepro. Every build starts from a
// freshly written conf/distributions so config changes apply on rebuild.
type RepreproBuilder struct {
	cfg       config.RepreproConfig
	reposRoot string
	command   string
	verifier  easygpg.Verifier
}

func NewRepreproBuilder(cfg config.RepreproConfig, reposRoot string) *RepreproBuilder {
	b := &RepreproBuilder{cfg: cfg, reposRoot: reposRoot, command: "reprepro"}
	if cfg.SignWith != "" {
		b.verifier = easygpg.EasyGPG{}
	}
	return b
}

func codename(repo *model.Repo) string {
	if repo.DistroVersion != "" {
		return repo.DistroVersion
	}
	return "default"
}

// Distributions renders conf/distributions for repo.
func (b *RepreproBuilder) Distributions(repo *model.Repo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Origin: %s\n", repo.Project)
	fmt.Fprintf(&sb, "Label: %s\n", repo.Project)
	fmt.Fprintf(&sb, "Codename: %s\n", codename(repo))
	fmt.Fprintf(&sb, "Suite: %s\n", repo.Distro)
	fmt.Fprintf(&sb, "Components: %s\n", b.cfg.Components)
	fmt.Fprintf(&sb, "Architectures: %s\n", b.cfg.Architectures)
	fmt.Fprintf(&sb, "Description: %s %s %s\n", repo.Project, repo.Ref, repo.Sha1)
	if b.cfg.SignWith != "" {
		fmt.Fprintf(&sb, "SignWith: %s\n", b.cfg.SignWith)
	}
	return sb.String()
}

// includeCommand picks the reprepro subcommand for a package file.
func includeCommand(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".deb":
		return "includedeb", true
	case ".udeb":
		return "includeudeb", true
	case ".ddeb":
		return "includeddeb", true
	case ".dsc":
		return "includedsc", true
	}
	return "", false
}

// Script returns the shell script run for repo.
func (b *RepreproBuilder) Script(repo *model.Repo, dir string) string {
	base := b.command + " -v -b " + systemutil.ShellQuote(dir)
	dist := systemutil.ShellQuote(codename(repo))

	var steps []string
	for _, bin := range repo.Binaries {
		name := bin.Name
		if name == "" {
			name = filepath.Base(bin.Path)
		}
		sub, ok := includeCommand(name)
		if !ok {
			log.Printf("Skipping %s in repo %d, not a debian package\n", name, repo.ID)
			continue
		}
		steps = append(steps, fmt.Sprintf("%s %s %s %s", base, sub, dist, systemutil.ShellQuote(bin.Path)))
	}
	steps = append(steps, fmt.Sprintf("%s export %s", base, dist))
	return strings.Join(steps, " && \\\n")
}

func (b *RepreproBuilder) Build(ctx context.Context, repo *model.Repo) (string, error) {
	dir := RepoDir(repo, b.reposRoot)
	confDir := filepath.Join(dir, "conf")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create repo directory: %w", err)
	}
	if err := ioutil.WriteFile(filepath.Join(confDir, "distributions"), []byte(b.Distributions(repo)), 0644); err != nil {
		return "", fmt.Errorf("failed to write distributions: %w", err)
	}

	logPath := LogPath(repo, b.reposRoot)
	_, err := systemutil.CmdExec(ctx, b.Script(repo, dir), describe(repo), logPath)
	if err == nil && b.verifier != nil {
		distDir := filepath.Join(dir, "dists", codename(repo))
		if verr := b.verifier.Verify(ctx, distDir, "Release.gpg", "Release"); verr != nil {
			err = fmt.Errorf("failed to verify release signature: %w", verr)
		}
	}
	closeLog(logPath, err)
	if err != nil {
		return "", err
	}
	return dir, nil
}
