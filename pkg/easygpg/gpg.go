package easygpg

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// package easygpg provide ready to use gpg interface

// Verifier checks a detached signature.
type Verifier interface {
	Verify(ctx context.Context, dirPath, signature, fileName string) error
}

const gpgCommand string = "gpg"

// EasyGPG verifies signatures with the gpg binary found in PATH.
type EasyGPG struct {
	// Homedir overrides GNUPGHOME when set.
	Homedir string
}

// Verify checks that signature is a valid detached signature of fileName,
// both relative to dirPath.
func (e EasyGPG) Verify(ctx context.Context, dirPath, signature, fileName string) error {
	args := []string{"--batch", "--verify"}
	if e.Homedir != "" {
		args = append([]string{"--homedir", e.Homedir}, args...)
	}
	args = append(args, signature, fileName)

	var stdErr bytes.Buffer
	cmd := exec.CommandContext(ctx, gpgCommand, args...)
	cmd.Dir = dirPath
	cmd.Stderr = &stdErr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stdErr.String())
		if msg == "" {
			return err
		}
		return errors.New(msg)
	}
	return nil
}
