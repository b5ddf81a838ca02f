package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/album-curator/internal/constants"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// StageRunner executes one stage of an album as an isolated unit of work
// and records its output in the stage log.
type StageRunner interface {
	RunStage(ctx context.Context, l workspace.Layout, stage string, force bool) error
}

// StageError is a failed stage with the end of its log.
type StageError struct {
	Stage    string
	ExitCode int
	LogTail  string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed with exit code %d", e.Stage, e.ExitCode)
}

// stageLog is the captured output of one stage invocation.
type stageLog struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (s stageLog) String() string {
	return strings.Join([]string{
		"$ " + s.Command,
		"",
		"=== STDOUT ===",
		s.Stdout,
		"",
		"=== STDERR ===",
		s.Stderr,
		"",
		fmt.Sprintf("[exit_code] %d", s.ExitCode),
		"",
	}, "\n")
}

// writeStageLog replaces the log of a stage and returns a StageError for a
// non-zero exit code.
func writeStageLog(l workspace.Layout, stage string, sl stageLog) error {
	text := sl.String()
	path := l.StageLog(stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write stage log: %w", err)
	}
	if sl.ExitCode != 0 {
		return &StageError{Stage: stage, ExitCode: sl.ExitCode, LogTail: tail(text, constants.LogTailBytes)}
	}
	return nil
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// readLogTail returns the end of a stage log, or "" when there is none.
func readLogTail(l workspace.Layout, stage string) string {
	data, err := os.ReadFile(l.StageLog(stage))
	if err != nil {
		return ""
	}
	return tail(string(data), constants.LogTailBytes)
}

// ExecRunner runs each stage as a child process of the curator binary
// through its hidden "stage" command.
type ExecRunner struct {
	Binary  string   // defaults to the running executable
	DataDir string   // passed to the child as --data-dir
	Env     []string // extra environment on top of the parent's
}

func (r *ExecRunner) binary() (string, error) {
	if r.Binary != "" {
		return r.Binary, nil
	}
	return os.Executable()
}

// RunStage implements StageRunner.
func (r *ExecRunner) RunStage(ctx context.Context, l workspace.Layout, stage string, force bool) error {
	bin, err := r.binary()
	if err != nil {
		return fmt.Errorf("locate curator binary: %w", err)
	}
	dataDir := r.DataDir
	if dataDir == "" {
		dataDir = filepath.Dir(l.Root)
	}
	args := []string{"stage", stage, "--album", filepath.Base(l.Root), "--data-dir", dataDir}
	if force {
		args = append(args, "--force")
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	sl := stageLog{
		Command: strings.Join(append([]string{bin}, args...), " "),
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		sl.ExitCode = exitErr.ExitCode()
		if sl.ExitCode == 0 {
			sl.ExitCode = 1
		}
	default:
		sl.ExitCode = 127
		sl.Stderr += runErr.Error() + "\n"
	}
	return writeStageLog(l, stage, sl)
}

// InProcessRunner runs stages on an executor in the current process.
type InProcessRunner struct {
	// NewExecutor returns the executor for a workspace.
	NewExecutor func(l workspace.Layout) *stages.Executor
}

// RunStage implements StageRunner.
func (r *InProcessRunner) RunStage(ctx context.Context, l workspace.Layout, stage string, force bool) error {
	cmd := "stage " + stage + " --album " + filepath.Base(l.Root)
	if force {
		cmd += " --force"
	}
	sl := stageLog{Command: cmd + " (in-process)"}
	if err := r.NewExecutor(l).Run(ctx, stage, force); err != nil {
		sl.Stderr = "Error: " + err.Error()
		sl.ExitCode = 1
	}
	return writeStageLog(l, stage, sl)
}
