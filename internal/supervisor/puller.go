package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/drover-project/drover/internal/logger"
)

// ProcessPuller runs the external pull command as a subprocess and
// streams its combined output line by line.
type ProcessPuller struct {
	command string
}

// NewProcessPuller creates a puller that invokes "<command> pull <model>".
func NewProcessPuller(command string) *ProcessPuller {
	return &ProcessPuller{command: command}
}

// Pull spawns the subprocess and feeds each stdout/stderr line to
// onLine. It blocks until the process exits or ctx is cancelled; on
// cancellation the process is killed by the context.
func (p *ProcessPuller) Pull(ctx context.Context, model string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, p.command, "pull", model)

	// Ask for SIGTERM before the context falls back to SIGKILL.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.command, err)
	}

	logger.Infof("Pull process started: %s pull %s (pid %d)", p.command, model, cmd.Process.Pid)

	// The pull tool writes progress to stderr and results to stdout;
	// both streams feed the same parser. A mutex keeps line delivery
	// serialized so updates apply in production order per stream.
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pipe := range []struct {
		name string
		r    io.Reader
	}{
		{"stdout", stdout},
		{"stderr", stderr},
	} {
		wg.Add(1)
		go func(name string, r io.Reader) {
			defer wg.Done()

			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				mu.Lock()
				onLine(scanner.Text())
				mu.Unlock()
			}
			if err := scanner.Err(); err != nil {
				logger.Debugf("Pull %s stream closed: %v", name, err)
			}
		}(pipe.name, pipe.r)
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("pull process terminated: %w", ctx.Err())
		}
		return fmt.Errorf("pull process failed: %w", err)
	}
	return nil
}
