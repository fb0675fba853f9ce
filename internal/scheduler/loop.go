// Package scheduler runs cache work on a single goroutine.
//
// Every task posted to a Loop runs to completion before the next one starts,
// so state owned by the loop needs no locks: ordering alone keeps it
// consistent. Blocking work (remote calls) belongs on other goroutines, which
// post their completions back with Post.
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when a task is submitted to a stopped loop.
var ErrStopped = errors.New("scheduler: loop stopped")

// Loop executes tasks one at a time, in submission order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	started bool

	wake chan struct{}
	done chan struct{}

	logger *zap.Logger
}

// New creates a loop. Tasks queue up until Start is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the loop goroutine. Calling it more than once is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// Stop refuses new tasks, drains the ones already queued and waits for the
// loop goroutine to exit. It must not be called from a task.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		if l.started {
			<-l.done
		}
		return
	}
	l.stopped = true
	started := l.started
	l.mu.Unlock()

	if !started {
		return
	}
	l.signal()
	<-l.done
}

// Post enqueues task and returns immediately. It is safe to call from any
// goroutine, including from inside a running task. It reports false when the
// loop has been stopped.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.signal()
	return true
}

// Do enqueues task and waits until it has run or ctx is done. If ctx ends
// first the task may still run later. Do must not be called from a task.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, task := range tasks {
			l.exec(task)
		}
		if len(tasks) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

func (l *Loop) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Scheduler task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task()
}
