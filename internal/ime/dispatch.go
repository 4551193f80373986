package ime

import (
	"context"
	"errors"
	"log/slog"

	"imebridge/internal/jobs"
)

// JobQueue runs engine work in submission order.
type JobQueue interface {
	Submit(name string, job jobs.Job) error
	Discard() int
}

// Observer receives reconciliation outcomes. All methods must be safe for
// concurrent use.
type Observer interface {
	PredictionConfirmed()
	PredictionMissed()
	EngineReset()
	Resync()
	EngineCommandDropped(name string)
	KeyReplay(hit bool)
}

type nopObserver struct{}

func (nopObserver) PredictionConfirmed()        {}
func (nopObserver) PredictionMissed()           {}
func (nopObserver) EngineReset()                {}
func (nopObserver) Resync()                     {}
func (nopObserver) EngineCommandDropped(string) {}
func (nopObserver) KeyReplay(bool)              {}

// dispatcher wraps engine calls into jobs that wait for the engine to be
// ready before running.
type dispatcher struct {
	conn     Connection
	queue    JobQueue
	logger   *slog.Logger
	observer Observer
}

// post queues an engine command and reports whether it was queued.
func (d *dispatcher) post(name string, fn func(ctx context.Context, e Engine) error) bool {
	err := d.queue.Submit(name, func(ctx context.Context) {
		e, err := d.conn.Ready(ctx)
		if err != nil {
			d.observer.EngineCommandDropped(name)
			if errors.Is(err, ErrEngineUnavailable) {
				d.logger.Debug("engine unavailable, command dropped", "command", name)
			} else {
				d.logger.Warn("engine not ready", "command", name, "error", err)
			}
			return
		}
		if err := fn(ctx, e); err != nil {
			d.logger.Warn("engine command failed", "command", name, "error", err)
		}
	})
	if err != nil {
		d.observer.EngineCommandDropped(name)
		d.logger.Debug("command not queued", "command", name, "error", err)
		return false
	}
	return true
}

func (d *dispatcher) discard() int {
	return d.queue.Discard()
}
