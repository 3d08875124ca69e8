// Package jobs runs periodic maintenance tasks on a ticker.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobProcessor performs one maintenance sweep.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker calls its processor every poll interval until stopped.
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	runAtStart   bool
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// Option configures a Worker.
type Option func(*Worker)

// WithName sets the name used in log lines.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithRunAtStart makes the worker sweep once before the first tick.
func WithRunAtStart() Option {
	return func(w *Worker) { w.runAtStart = true }
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		name:         "worker",
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the polling loop and blocks until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("jobs: %s started with poll interval %v", w.name, w.pollInterval)

	if w.runAtStart {
		w.sweep(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("jobs: %s stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("jobs: %s stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("jobs: %s sweep failed: %v", w.name, err)
	}
}

// Stop signals the loop and waits for it to exit. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	log.Printf("jobs: %s shutdown complete", w.name)
}
