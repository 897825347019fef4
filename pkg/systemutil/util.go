package systemutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hpcloud/tail"
)

// CmdExec run os command. When logPath is set the output is appended to it
// after a header made of cmdDesc. env entries are added to the environment.
func CmdExec(ctx context.Context, cmdStr string, cmdDesc string, logPath string, env ...string) (out string, err error) {
	if len(cmdStr) == 0 {
		return "", errors.New("No command string provided.")
	}

	if len(logPath) > 0 {
		os.MkdirAll(filepath.Dir(logPath), os.ModePerm)
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return "", err
		}
		_, _ = f.WriteString("\n")
		if len(cmdDesc) > 0 {
			for _, desc := range strings.Split(cmdDesc, "\n") {
				_, _ = f.WriteString("##### " + desc + "\n")
			}
		}
		_, _ = f.WriteString("##### RUN " + cmdStr + "\n")
		f.Close()
		cmdStr = "{ " + cmdStr + "\n} 2>&1 | tee -a " + ShellQuote(logPath)
	}

	// `set -o pipefail` will forces to return the original exit code
	cmd := exec.CommandContext(ctx, "bash", "-c", "set -o pipefail && "+cmdStr)
	cmd.Env = append(os.Environ(), env...)
	output, err := cmd.Output()
	out = string(output)

	return
}

// ShellQuote quotes s for use as a single bash word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StreamLog copies the lines of a log file to w. With follow set it keeps
// waiting for new lines until ctx is done.
func StreamLog(ctx context.Context, path string, follow bool, w io.Writer) error {
	t, err := tail.TailFile(path, tail.Config{Follow: follow, ReOpen: follow, MustExist: true})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}

// WriteLog appends a message to the log file, or prints it when no log
// file is given.
func WriteLog(logPath string, message string) error {
	if len(logPath) == 0 {
		fmt.Println(message)
		return nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(message + "\n")
	return err
}
