package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/petal-labs/arbor/core"
)

type deferredSignal struct {
	id     core.NodeID
	epoch  uint64
	signal core.SignalType
}

// Defer schedules signal for id at the start of the next pass. The signal is
// dropped if the node is started again, interrupted or destroyed meanwhile.
// A deferred SignalRun goes through Start.
func (e *Engine) Defer(id core.NodeID, signal core.SignalType) error {
	n, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("defer %s to %s: %w", signal, id, ErrNodeNotFound)
	}
	e.deferred = append(e.deferred, deferredSignal{id: id, epoch: n.epoch, signal: signal})
	return nil
}

// Tick runs one scheduling pass: signals deferred during the previous pass,
// then completed asynchronous tasks, then a SignalTick broadcast.
func (e *Engine) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := e.deferred
	e.deferred = nil
	for i, d := range batch {
		if err := e.runDeferred(d); err != nil {
			e.deferred = append(batch[i+1:], e.deferred...)
			return err
		}
	}

	for range len(e.completions) {
		if err := e.complete(<-e.completions); err != nil {
			return err
		}
	}

	return e.Broadcast(Signal{Type: core.SignalTick})
}

func (e *Engine) runDeferred(d deferredSignal) error {
	n, ok := e.nodes[d.id]
	if !ok || n.epoch != d.epoch {
		e.logger.Debug("dropped deferred signal", "node", d.id, "signal", d.signal)
		return nil
	}
	if d.signal == core.SignalRun {
		return e.start(d.id, true)
	}
	return e.dispatch(d.id, &Signal{Type: d.signal, Source: d.id, Deferred: true})
}

// Await ticks every interval until the run launched on root has ended and
// returns root's result. If ctx ends first, root is interrupted and the
// context error returned.
func (e *Engine) Await(ctx context.Context, root core.NodeID, interval time.Duration) (core.Result, error) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !e.Exists(root) {
			return 0, fmt.Errorf("await %s: %w", root, ErrNodeNotFound)
		}
		if e.Finished(root) {
			if r, ok := e.ResultOf(root); ok {
				return r, nil
			}
			return 0, fmt.Errorf("await %s: %w", root, ErrInterrupted)
		}

		select {
		case <-ctx.Done():
			return 0, e.abort(ctx, root)
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return 0, e.abort(ctx, root)
				}
				return 0, err
			}
		}
	}
}

// Drive launches root with Run and waits for its result with Await.
func (e *Engine) Drive(ctx context.Context, root core.NodeID, interval time.Duration) (core.Result, error) {
	if _, err := e.Run(root); err != nil {
		return 0, err
	}
	return e.Await(ctx, root, interval)
}

func (e *Engine) abort(ctx context.Context, root core.NodeID) error {
	if err := e.Interrupt(root); err != nil {
		return err
	}
	return ctx.Err()
}
