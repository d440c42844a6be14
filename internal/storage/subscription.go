package storage

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// Subscription is a live stream of snapshots of type T.
//
// Delivery is latest-wins: a consumer that falls behind only ever sees the
// newest snapshot. Errors are delivered on a separate channel and do not end
// the stream. The stream ends when Close is called or the context passed to
// NewSubscription is done; Done is closed at that point.
type Subscription[T any] struct {
	mu      sync.Mutex
	updates chan T
	errs    chan error
	done    chan struct{}
	once    sync.Once
	onClose func()
	stop    func() bool
}

// NewSubscription creates an open subscription. onClose runs exactly once,
// after Done is closed.
func NewSubscription[T any](ctx context.Context, onClose func()) *Subscription[T] {
	s := &Subscription[T]{
		updates: make(chan T, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	if ctx != nil {
		s.stop = context.AfterFunc(ctx, s.Close)
	}
	return s
}

// Updates returns the snapshot channel.
func (s *Subscription[T]) Updates() <-chan T { return s.updates }

// Errors returns the error channel.
func (s *Subscription[T]) Errors() <-chan error { return s.errs }

// Done is closed when the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close ends the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		if s.stop != nil {
			s.stop()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Closed reports whether the subscription has ended.
func (s *Subscription[T]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Publish replaces any undelivered snapshot with v. It never blocks and
// returns false once the subscription is closed.
func (s *Subscription[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
	return true
}

// Fail reports a non-fatal error to the consumer, replacing any undelivered one.
func (s *Subscription[T]) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case <-s.errs:
	default:
	}
	s.errs <- err
}

// Poll runs fetch every interval and publishes its result to a new
// subscription whenever it differs from the last published value. It serves
// backends that have no change notification of their own.
func Poll[T any](ctx context.Context, interval time.Duration, fetch func(context.Context) (T, error)) *Subscription[T] {
	pollCtx, cancel := context.WithCancel(ctx)
	sub := NewSubscription[T](pollCtx, cancel)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last T
		published := false
		for {
			v, err := fetch(pollCtx)
			switch {
			case err != nil:
				if pollCtx.Err() != nil {
					return
				}
				sub.Fail(err)
			case !published || !reflect.DeepEqual(last, v):
				if !sub.Publish(v) {
					return
				}
				last, published = v, true
			}

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return sub
}
