package buildworker

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/blankon/irgsh-repod/internal/model"
	"github.com/blankon/irgsh-repod/pkg/systemutil"
)

// ExecBuilder builds a repo by running a shell command. The command sees
// REPO_DIR, REPO_ID, REPO_TYPE and REPO_BINARIES (newline separated paths).
type ExecBuilder struct {
	command   string
	reposRoot string
}

// NewExecBuilder creates an ExecBuilder writing repos under reposRoot.
func NewExecBuilder(command, reposRoot string) *ExecBuilder {
	return &ExecBuilder{command: command, reposRoot: reposRoot}
}

// RepoDir returns where repo is built: its current path, or the default
// layout under reposRoot.
func RepoDir(repo *model.Repo, reposRoot string) string {
	if repo.Path != "" {
		return repo.Path
	}
	return repo.DefaultDir(reposRoot)
}

// LogPath returns the build log of repo. It sits next to the repo directory
// so rebuilding the repo does not wipe it.
func LogPath(repo *model.Repo, reposRoot string) string {
	return RepoDir(repo, reposRoot) + ".build.log"
}

func (b *ExecBuilder) Dir(repo *model.Repo) string {
	return RepoDir(repo, b.reposRoot)
}

func (b *ExecBuilder) LogPath(repo *model.Repo) string {
	return LogPath(repo, b.reposRoot)
}

// closeLog appends the outcome of a build to its log.
func closeLog(logPath string, buildErr error) {
	msg := "##### DONE"
	if buildErr != nil {
		msg = "##### FAILED " + buildErr.Error()
	}
	if err := systemutil.WriteLog(logPath, msg); err != nil {
		log.Printf("Failed to write build log %s: %v\n", logPath, err)
	}
}

func describe(repo *model.Repo) string {
	return fmt.Sprintf("Build %s repo %d (%s %s %s/%s)", repo.Type, repo.ID, repo.Project, repo.Ref, repo.Distro, repo.DistroVersion)
}

func (b *ExecBuilder) Build(ctx context.Context, repo *model.Repo) (string, error) {
	dir := b.Dir(repo)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create repo directory: %w", err)
	}

	binaries := make([]string, 0, len(repo.Binaries))
	for _, bin := range repo.Binaries {
		binaries = append(binaries, bin.Path)
	}
	env := []string{
		"REPO_DIR=" + dir,
		fmt.Sprintf("REPO_ID=%d", repo.ID),
		"REPO_TYPE=" + string(repo.Type),
		"REPO_BINARIES=" + strings.Join(binaries, "\n"),
	}

	_, err := systemutil.CmdExec(ctx, b.command, describe(repo), b.LogPath(repo), env...)
	closeLog(b.LogPath(repo), err)
	if err != nil {
		return "", err
	}
	return dir, nil
}
