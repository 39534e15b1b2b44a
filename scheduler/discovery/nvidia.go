// Package discovery implements scheduler.Inventory on top of vendor tooling.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/scheduler"
)

const (
	// DefaultCommand is resolved through PATH.
	DefaultCommand = "nvidia-smi"
	// DefaultTimeout bounds a single discovery invocation.
	DefaultTimeout = 5 * time.Second
)

// queryArgs selects the columns ParseCSV expects, in order.
var queryArgs = []string{
	"--query-gpu=index,name,memory.total,memory.free,memory.used,utilization.gpu,temperature.gpu,power.draw",
	"--format=csv,noheader,nounits",
}

// runFunc executes name with args and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI discovers NVIDIA GPUs by invoking nvidia-smi on every call.
// A missing binary or a timed-out invocation yields an empty inventory so
// CPU-only hosts keep working; other failures are returned as errors.
type NvidiaSMI struct {
	Command string
	Timeout time.Duration
	run     runFunc
}

// NewNvidiaSMI returns an inventory using command (DefaultCommand if empty)
// and timeout (DefaultTimeout if non-positive).
func NewNvidiaSMI(command string, timeout time.Duration) *NvidiaSMI {
	if command == "" {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NvidiaSMI{Command: command, Timeout: timeout, run: execRun}
}

// Discover implements scheduler.Inventory.
func (n *NvidiaSMI) Discover(ctx context.Context) ([]scheduler.Accelerator, error) {
	ctx, cancel := context.WithTimeout(ctx, n.Timeout)
	defer cancel()

	out, err := n.run(ctx, n.Command, queryArgs...)
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		logrus.Warnf("accelerator discovery: %s not found, running without accelerators", n.Command)
		return []scheduler.Accelerator{}, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logrus.Warnf("accelerator discovery: %s timed out after %s, running without accelerators", n.Command, n.Timeout)
		return []scheduler.Accelerator{}, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("running %s: %w: %s", n.Command, err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("running %s: %w", n.Command, err)
	}

	accelerators := ParseCSV(out)
	logrus.Debugf("accelerator discovery: found %d device(s)", len(accelerators))
	return accelerators, nil
}
