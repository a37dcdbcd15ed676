package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// runShellCommand runs command in cwd through the platform shell,
// capturing stdout/stderr separately and enforcing timeout.
func runShellCommand(ctx context.Context, command, cwd string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell, arg := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, arg = "cmd", "/C"
	}

	cmd := exec.CommandContext(ctx, shell, arg, command)
	cmd.Dir = cwd

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", "", -1, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(runErr, &exitErr); ok {
			return outBuf.String(), errBuf.String(), exitErr.ExitCode(), nil
		}
		return "", "", -1, fmt.Errorf("failed to run command: %w", runErr)
	}
	return outBuf.String(), errBuf.String(), 0, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
