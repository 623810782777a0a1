//go:build linux

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type linuxBackend struct{ tool string }

func platformBackend() (backend, error) { return &linuxBackend{}, nil }

func (l *linuxBackend) name() string { return l.tool }

// probe prefers gnome-screenshot and falls back to scrot.
func (l *linuxBackend) probe() error {
	for _, tool := range []string{"gnome-screenshot", "scrot"} {
		if _, err := exec.LookPath(tool); err == nil {
			l.tool = tool
			return nil
		}
	}
	return errors.New("no screenshot tool found (install gnome-screenshot or scrot)")
}

func (l *linuxBackend) grab(ctx context.Context, path string) error {
	var cmd *exec.Cmd
	switch l.tool {
	case "gnome-screenshot":
		cmd = exec.CommandContext(ctx, "gnome-screenshot", "-f", path)
	case "scrot":
		cmd = exec.CommandContext(ctx, "scrot", "-o", path)
	default:
		return errors.New("screenshot tool not probed")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
