// Package supervisor owns groups of named goroutines: it cancels them
// together, waits for them with a deadline, and can restart crashed loops
// with backoff.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"tasksbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logx.Logger
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs fn once under the supervisor's context. Panics are logged, not
// propagated.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recover(name)
		fn(s.ctx)
	}()
}

// GoRestart keeps fn running until the supervisor is cancelled, restarting
// it with exponential backoff whenever it returns or panics. A run that
// survives past the max backoff resets the backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context), minBackoff, maxBackoff time.Duration) {
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = 10 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := minBackoff
		for {
			started := time.Now()
			func() {
				defer s.recover(name)
				fn(s.ctx)
			}()
			if s.ctx.Err() != nil {
				return
			}
			if time.Since(started) > maxBackoff {
				backoff = minBackoff
			}
			s.log.Warn("goroutine exited; restarting",
				logx.String("name", name), logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

func (s *Supervisor) recover(name string) {
	if r := recover(); r != nil {
		s.log.Error("panic in supervised goroutine",
			logx.String("name", name), logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())))
	}
}

// Cancel asks all supervised goroutines to stop.
func (s *Supervisor) Cancel() { s.cancel() }

// Wait blocks until every goroutine has returned or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
