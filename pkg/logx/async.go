package logx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// record is one queued log call, captured at the call site.
type record struct {
	level  zerolog.Level
	msg    string
	caller string
	fixed  []Field
	fields []Field
}

// Async routes log writes through a bounded queue drained by one background
// worker, so hot paths never block on the sink. When the queue is full the
// record is dropped and the drop count is reported periodically instead of
// per-record.
type Async struct {
	inner Logger
	queue chan record

	dropped  atomic.Uint64
	dropWarn *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewAsync wraps inner in a background queue of the given size.
// Close() must be called on shutdown to drain pending records.
func NewAsync(inner Logger, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 1024
	}
	a := &Async{
		inner:    inner,
		queue:    make(chan record, queueSize),
		dropWarn: rate.NewLimiter(rate.Every(5*time.Second), 1),
		done:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

// Logger returns a Logger whose leveled methods enqueue to this sink.
func (a *Async) Logger() Logger {
	return Logger{sink: a, base: a.inner.root(), hasBase: true}
}

func (a *Async) enqueue(r record) {
	select {
	case <-a.done:
		// Sink closed; write synchronously rather than lose the record.
		a.inner.writeRecord(r.level, r.msg, r.caller, r.fixed, r.fields)
		return
	default:
	}
	select {
	case a.queue <- r:
	default:
		n := a.dropped.Add(1)
		if a.dropWarn.Allow() {
			a.inner.writeRecord(zerolog.WarnLevel, "log records dropped (queue full)", "",
				nil, []Field{Uint64("count", n), Int("queue_cap", cap(a.queue))})
		}
	}
}

func (a *Async) worker() {
	defer a.wg.Done()
	for {
		select {
		case r := <-a.queue:
			a.inner.writeRecord(r.level, r.msg, r.caller, r.fixed, r.fields)
		case <-a.done:
			// Drain whatever is left, then exit.
			for {
				select {
				case r := <-a.queue:
					a.inner.writeRecord(r.level, r.msg, r.caller, r.fixed, r.fields)
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after draining the queue.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
	return nil
}
