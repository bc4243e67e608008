package hydrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/runtime"
)

// maxOutputLine is the longest output line forwarded as an event.
const maxOutputLine = 1 << 20

type execConfig struct {
	Command []string      `mapstructure:"command"`
	Dir     string        `mapstructure:"dir"`
	Env     []string      `mapstructure:"env"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (f *Factory) buildExec(def graph.NodeDef) ([]any, error) {
	var cfg execConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("exec needs a command")
	}
	return []any{nodes.Task{Fn: cfg.run}}, nil
}

// run executes the command. Each output line is emitted as a node.output
// event. A non-zero exit status is a Failure; failing to start the command
// is an error.
func (cfg execConfig) run(ctx context.Context) (core.Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	logger := runtime.LoggerFromContext(ctx)
	emit := runtime.EmitterFromContext(ctx)

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...) // #nosec G204 -- command comes from the tree definition
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.Failure, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.Failure, err
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return core.Failure, fmt.Errorf("starting %s: %w", cfg.Command[0], err)
	}

	var wg sync.WaitGroup
	forward := func(r io.Reader, stream string) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxOutputLine)
		for sc.Scan() {
			emit(runtime.NewEvent(runtime.EventNodeOutput, "").
				WithPayload("stream", stream).
				WithPayload("line", sc.Text()))
		}
		if err := sc.Err(); err != nil {
			logger.Warn("exec output no longer forwarded", "command", cfg.Command[0], "stream", stream, "error", err)
		}
		// The command blocks on a full pipe unless the rest is read.
		_, _ = io.Copy(io.Discard, r)
	}
	wg.Add(2)
	go forward(stdout, "stdout")
	go forward(stderr, "stderr")
	wg.Wait()

	err = cmd.Wait()
	logger.Debug("exec finished", "command", cfg.Command[0], "elapsed", time.Since(started), "err", err)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return core.Success, nil
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		logger.Info("exec exited with non-zero status", "command", cfg.Command[0], "code", exitErr.ExitCode())
		return core.Failure, nil
	default:
		return core.Failure, err
	}
}
