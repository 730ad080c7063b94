package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/JonMunkholm/bulkdata/internal/logging"
)

// ShellParams are handed to the loader script through its environment.
type ShellParams struct {
	BulkDir  string
	Host     string
	User     string
	Password string
}

func (p ShellParams) env() []string {
	return []string{
		"BULK_DIR=" + p.BulkDir,
		"BULK_DB_HOST=" + p.Host,
		"BULK_DB_USER=" + p.User,
		"BULK_DB_PASSWORD=" + p.Password,
	}
}

// ShellLoader delegates the whole import to an external bash script.
type ShellLoader struct {
	Script string
	Shell  string // defaults to "bash"

	Stdout io.Writer // defaults to os.Stdout
	Stderr io.Writer // defaults to os.Stderr
}

// ExitError reports a non-zero exit from the loader script.
type ExitError struct {
	Script string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("loader script %s exited with status %d", e.Script, e.Code)
}

// Run executes the script and waits for it. The current environment is
// inherited with the BULK_* variables added.
func (l ShellLoader) Run(ctx context.Context, p ShellParams) error {
	shell := l.Shell
	if shell == "" {
		shell = "bash"
	}
	if _, err := os.Stat(l.Script); err != nil {
		return fmt.Errorf("loader script: %w", err)
	}

	cmd := exec.CommandContext(ctx, shell, l.Script)
	cmd.Env = append(os.Environ(), p.env()...)
	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	log := logging.WithFields(ctx, "script", l.Script, "bulk_dir", p.BulkDir, "db_host", p.Host)
	log.Info("running loader script")

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		log.Info("loader script finished")
		return nil
	case errors.As(err, &exitErr):
		log.Error("loader script failed", "exit_code", exitErr.ExitCode())
		return &ExitError{Script: l.Script, Code: exitErr.ExitCode()}
	default:
		return fmt.Errorf("run loader script: %w", err)
	}
}
