package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Runtime builds and runs submission images. The production implementation
// shells out to a container CLI; tests substitute a fake.
type Runtime interface {
	// Build produces an image from the Dockerfile in dir and returns its
	// reference.
	Build(ctx context.Context, dir string) (string, error)

	// Exec runs image with input piped to stdin and returns trimmed stdout.
	// A zero timeout means the run is not bounded. timedOut reports that the
	// deadline elapsed before the container finished, in which case the
	// container was killed and output is empty.
	Exec(ctx context.Context, image, input string, timeout time.Duration) (output string, timedOut bool, err error)

	// Teardown removes stopped containers and the given images.
	Teardown(ctx context.Context, images ...string) error
}

// CLIRuntime drives a docker-compatible command line. Both docker and
// podman accept the exact invocations used here.
type CLIRuntime struct {
	bin string
	log hclog.Logger
}

// NewCLIRuntime returns a runtime backed by the named binary, typically
// "docker" or "podman".
func NewCLIRuntime(bin string, logger hclog.Logger) *CLIRuntime {
	if bin == "" {
		bin = "docker"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &CLIRuntime{bin: bin, log: logger.Named("runtime")}
}

// Build runs `<bin> buildx build -q <dir>`. BuildKit writes the image
// reference to stdout in quiet mode and diagnostics to stderr. Any stderr
// output is treated as a failed build even when the process exits zero,
// matching how compile errors surface from student code.
func (r *CLIRuntime) Build(ctx context.Context, dir string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, "buildx", "build", "-q", dir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", errors.New(msg)
	}
	if runErr != nil {
		return "", fmt.Errorf("%s build: %w", r.bin, runErr)
	}

	image := strings.TrimSpace(stdout.String())
	if image == "" {
		return "", fmt.Errorf("%s build produced no image reference", r.bin)
	}
	r.log.Debug("built submission image", "image", image)
	return image, nil
}

// Exec runs `<bin> run -i <image>` with input on stdin. Containers are left
// behind on exit and reaped later by Teardown's prune, which also catches
// the ones a kill-on-timeout orphans.
func (r *CLIRuntime) Exec(ctx context.Context, image, input string, timeout time.Duration) (string, bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, "run", "-i", image)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", true, nil
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", false, errors.New(msg)
	}
	if runErr != nil {
		return "", false, fmt.Errorf("%s run: %w", r.bin, runErr)
	}
	return strings.TrimSpace(stdout.String()), false, nil
}

// Teardown prunes stopped containers and removes the given images. Failures
// are collected rather than aborting: a missed rmi should not stop the prune
// or the removal of the remaining images.
func (r *CLIRuntime) Teardown(ctx context.Context, images ...string) error {
	var merr *multierror.Error

	if out, err := exec.CommandContext(ctx, r.bin, "container", "prune", "-f").CombinedOutput(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("container prune: %w: %s", err, bytes.TrimSpace(out)))
	}
	for _, image := range images {
		if out, err := exec.CommandContext(ctx, r.bin, "rmi", image).CombinedOutput(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("rmi %s: %w: %s", image, err, bytes.TrimSpace(out)))
		}
	}
	return merr.ErrorOrNil()
}
