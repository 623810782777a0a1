//go:build darwin

package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type darwinBackend struct{}

func platformBackend() (backend, error) { return darwinBackend{}, nil }

func (darwinBackend) name() string { return "screencapture" }

func (darwinBackend) probe() error {
	_, err := exec.LookPath("screencapture")
	return err
}

// grab captures the main display silently.
func (darwinBackend) grab(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-m", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
