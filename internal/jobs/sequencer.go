// Package jobs runs deferred engine work strictly one job at a time, in the
// order it was submitted.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned when submitting to a closed sequencer.
	ErrClosed = errors.New("jobs: sequencer closed")
	// ErrRunning is returned when Run is called on a sequencer that is
	// already running.
	ErrRunning = errors.New("jobs: sequencer already running")
	// ErrDiscarded is returned by Sync when its barrier was discarded
	// before it executed.
	ErrDiscarded = errors.New("jobs: discarded before execution")
)

// Job is a unit of deferred work. It runs on the sequencer goroutine and may
// block; the next job does not start until it returns.
type Job func(ctx context.Context)

// Observer receives execution statistics. Implementations must be safe for
// concurrent use.
type Observer interface {
	JobExecuted(name string, took time.Duration)
	JobsDiscarded(n int)
}

type queued struct {
	name    string
	job     Job
	dropped func()
}

// Sequencer is an unbounded FIFO of jobs drained by a single goroutine.
// Submit never blocks.
type Sequencer struct {
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	queue  []queued
	closed bool

	wake      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	busy      atomic.Bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger used for job failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver attaches an execution observer.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// New creates a sequencer. Call Run to start draining it.
func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "jobs"))
	return s
}

// Submit appends a job to the queue. The name is only used for logging.
func (s *Sequencer) Submit(name string, job Job) error {
	return s.enqueue(queued{name: name, job: job})
}

func (s *Sequencer) enqueue(q queued) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, q)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes queued jobs until ctx is cancelled or Close is called.
// A job that is executing when either happens is allowed to finish.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	for {
		q, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closing:
				return nil
			case <-s.wake:
				continue
			}
		}
		s.exec(ctx, q)
	}
}

func (s *Sequencer) next() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return queued{}, false
	}
	q := s.queue[0]
	s.queue[0] = queued{}
	s.queue = s.queue[1:]
	return q, true
}

func (s *Sequencer) exec(ctx context.Context, q queued) {
	s.busy.Store(true)
	defer s.busy.Store(false)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", q.name, "panic", fmt.Sprint(r))
		}
		if s.observer != nil {
			s.observer.JobExecuted(q.name, time.Since(start))
		}
	}()
	q.job(ctx)
}

// Discard drops every job that has not started yet and returns how many
// were dropped. A job already executing is not affected.
func (s *Sequencer) Discard() int {
	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, q := range dropped {
		if q.dropped != nil {
			q.dropped()
		}
	}
	if n := len(dropped); n > 0 {
		s.logger.Debug("discarded pending jobs", "count", n)
		if s.observer != nil {
			s.observer.JobsDiscarded(n)
		}
	}
	return len(dropped)
}

// Sync waits until every job submitted before it has executed.
func (s *Sequencer) Sync(ctx context.Context) error {
	done := make(chan struct{})
	dropped := make(chan struct{})
	err := s.enqueue(queued{
		name:    "sync",
		job:     func(context.Context) { close(done) },
		dropped: func() { close(dropped) },
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-dropped:
		return ErrDiscarded
	case <-s.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of jobs waiting to execute.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Busy reports whether a job is executing right now.
func (s *Sequencer) Busy() bool {
	return s.busy.Load()
}

// Close stops the sequencer. Pending jobs are discarded and later
// submissions fail with ErrClosed. Close does not wait for an executing job.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.Discard()
		close(s.closing)
	})
}
