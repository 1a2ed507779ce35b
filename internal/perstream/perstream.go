// Package perstream provides a scheduler that serializes work per stream key
// while letting work for different streams run concurrently.
//
// The consumer uses it so one aggregate stream's backlog is processed in
// delivery order without stalling deliveries for other streams or tenants.
package perstream

import (
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a closed scheduler.
var ErrClosed = errors.New("perstream scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	queueSize int
}

// WithQueueSize sets the task queue size per stream (default 64).
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// Scheduler runs tasks such that for any given key, tasks execute
// sequentially in submission order. Tasks for different keys run in parallel.
type Scheduler struct {
	mu        sync.Mutex
	lanes     map[string]*lane
	closed    bool
	submits   sync.WaitGroup
	workers   sync.WaitGroup
	queueSize int
}

type lane struct {
	tasks chan func()
}

func New(opts ...Option) *Scheduler {
	cfg := &config{queueSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler{
		lanes:     map[string]*lane{},
		queueSize: cfg.queueSize,
	}
}

// Go enqueues fn on key's lane and returns without waiting for it to run.
// Submission order is preserved per key. The caller owns error handling
// inside fn.
func (s *Scheduler) Go(key string, fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.submits.Add(1)
	l := s.laneLocked(key)
	s.mu.Unlock()

	l.tasks <- fn
	s.submits.Done()
	return nil
}

// Close stops accepting new tasks and blocks until every task already queued
// has finished running. After Close returns the caller may tear down
// resources the tasks depend on.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// wait for in-flight Go calls to finish enqueueing before closing
	// channels
	s.submits.Wait()

	s.mu.Lock()
	for _, l := range s.lanes {
		close(l.tasks)
	}
	s.lanes = nil
	s.mu.Unlock()

	s.workers.Wait()
}

func (s *Scheduler) laneLocked(key string) *lane {
	l, ok := s.lanes[key]
	if ok {
		return l
	}
	l = &lane{tasks: make(chan func(), s.queueSize)}
	s.lanes[key] = l
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		for fn := range l.tasks {
			fn()
		}
	}()
	return l
}
