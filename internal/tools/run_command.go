package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/logger"
)

// maxCommandOutput caps the combined output returned to the model.
const maxCommandOutput = 16 * 1024

// RunCommandTool executes a shell command inside the workspace. It is the only
// tool behind the approval gate: the loop controller obtains a decision before
// Execute is ever called.
type RunCommandTool struct {
	workspaceDir string
	timeout      time.Duration
}

// NewRunCommandTool creates a run_command tool rooted at workspaceDir
func NewRunCommandTool(workspaceDir string, timeout time.Duration) *RunCommandTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RunCommandTool{workspaceDir: workspaceDir, timeout: timeout}
}

func (t *RunCommandTool) Name() string {
	return ToolNameRunCommand
}

func (t *RunCommandTool) Description() string {
	return "Run a shell command in the workspace. Requires user approval. Output is captured and the command is killed after 60 seconds."
}

func (t *RunCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory relative to the workspace root (defaults to the root)",
			},
		},
		"required": []string{"command"},
	}
}

// RequiresApproval marks this tool for the approval gate
func (t *RunCommandTool) RequiresApproval() bool {
	return true
}

// ResolveCwd maps the optional cwd argument to an absolute directory inside
// the workspace. The gate shows this path to the user before approval.
func (t *RunCommandTool) ResolveCwd(params map[string]interface{}) (string, error) {
	cwd := GetStringParam(params, "cwd", "")
	if cwd == "" || cwd == "." {
		return t.workspaceDir, nil
	}
	abs := cwd
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(t.workspaceDir, abs)
	}
	abs = filepath.Clean(abs)
	if abs != t.workspaceDir && !strings.HasPrefix(abs, t.workspaceDir+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd resolves outside the workspace: %s", cwd)
	}
	return abs, nil
}

func (t *RunCommandTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	command := GetStringParam(params, "command", "")

	cwd, err := t.ResolveCwd(params)
	if err != nil {
		return Errorf(ErrKindValidation, "%v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Info("run_command: executing %q in %s", command, cwd)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	combined := output.String()
	if len(combined) > maxCommandOutput {
		combined = combined[:maxCommandOutput] + "\n... output truncated"
	}

	if ctx.Err() == context.Canceled {
		return Errorf(ErrKindCancelled, "command cancelled after %s", elapsed.Round(time.Millisecond))
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return Errorf(ErrKindTimeout, "command timed out after %s and was killed; partial output:\n%s", t.timeout, combined)
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return Errorf(ErrKindIO, "failed to run command: %v", runErr)
	}

	if exitCode != 0 {
		return Errorf(ErrKindIO, "command exited with code %d; output:\n%s", exitCode, combined)
	}
	return Ok(fmt.Sprintf("command completed in %s", elapsed.Round(time.Millisecond)), map[string]interface{}{
		"output":    combined,
		"exit_code": exitCode,
	})
}
