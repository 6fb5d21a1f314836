package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/core"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

type inline struct{}

func (inline) Dispatch(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Inline runs callbacks on the goroutine that receives the event.
var Inline core.Dispatcher = inline{}

// ChanDispatcher hands callbacks to a consumer loop:
//
//	for fn := range d { fn() }
type ChanDispatcher chan func()

func (d ChanDispatcher) Dispatch(ctx context.Context, fn func()) error {
	select {
	case d <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SerialDispatcher runs callbacks one at a time on its own goroutine.
type SerialDispatcher struct {
	queue chan func()
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func NewSerialDispatcher(buffer int) *SerialDispatcher {
	d := &SerialDispatcher{
		queue: make(chan func(), buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *SerialDispatcher) run() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-d.stop:
			for {
				select {
				case fn := <-d.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (d *SerialDispatcher) Dispatch(ctx context.Context, fn func()) error {
	select {
	case <-d.stop:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- fn:
		return nil
	case <-d.stop:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close runs what is already queued and stops the goroutine. It must not be
// called from a callback running on d; use stopAsync there.
func (d *SerialDispatcher) Close() {
	d.stopAsync()
	<-d.done
}

// stopAsync rejects new callbacks; queued ones still run.
func (d *SerialDispatcher) stopAsync() {
	d.once.Do(func() { close(d.stop) })
}
