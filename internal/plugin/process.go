package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// runProcess spawns the interpreter as
//
//	<interpreter...> <entry> <command> <context-json>
//
// in the plugin directory. The child gets its own process group so a timeout
// kills everything it started.
func (e *Executor) runProcess(ctx context.Context, d *Descriptor, command string, pc *Context) (string, error) {
	entry, ok := d.handle.(string)
	if !ok || entry == "" {
		return "", fmt.Errorf("process handle has type %T", d.handle)
	}

	interp := e.interpreters[d.Lang]
	if len(interp) == 0 {
		return "", fmt.Errorf("%w: no interpreter for %s", ErrUnsupportedRuntime, d.Lang)
	}

	snapshot, err := pc.MarshalSnapshot()
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}

	args := append(append([]string(nil), interp[1:]...), entry, command, snapshot)
	cmd := exec.CommandContext(ctx, interp[0], args...)
	cmd.Dir = d.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = e.waitDelay

	if err := cmd.Run(); err != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		e.logger.Debug("plugin stderr", "plugin", d.Name, "stderr", msg)
	}

	return strings.TrimSpace(stdout.String()), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
