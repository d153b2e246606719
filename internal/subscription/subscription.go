package subscription

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mapfeed/mapfeed-indexer/common/errs"
)

// BufferSize is the buffer size of the subscription's inbound channel. It
// keeps a slow consumer from blocking the dispatcher immediately.
var BufferSize = 8

// Subscription forwards values from a producer to a consumer channel and
// carries producer errors out-of-band. Closing is requested by sending on
// 'quit'; the forwarding loop closes 'quitDone' once it has stopped sending.
type Subscription[T any] struct {
	// channel is the consumer-facing channel the subscription sends values to.
	channel chan<- T

	// in receives values from the producer.
	in chan T

	// err receives errors from the producer.
	err chan error

	quitOnce sync.Once
	quit     chan struct{}
	quitDone chan struct{}
}

func New[T any](channel chan<- T) *Subscription[T] {
	s := &Subscription[T]{
		channel:  channel,
		in:       make(chan T, BufferSize),
		err:      make(chan error, BufferSize),
		quit:     make(chan struct{}),
		quitDone: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Subscription[T]) Unsubscribe() {
	_ = s.UnsubscribeWithContext(context.Background())
}

func (s *Subscription[T]) UnsubscribeWithContext(ctx context.Context) (err error) {
	s.quitOnce.Do(func() {
		select {
		case s.quit <- struct{}{}:
			<-s.quitDone
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return errors.WithStack(err)
}

// Client returns the consumer-side view of this subscription.
func (s *Subscription[T]) Client() *ClientSubscription[T] {
	return &ClientSubscription[T]{subscription: s}
}

// Err returns the error channel of the subscription.
func (s *Subscription[T]) Err() <-chan error {
	return s.err
}

// Done returns the done channel of the subscription.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.quitDone
}

// IsClosed returns status of the subscription.
func (s *Subscription[T]) IsClosed() bool {
	select {
	case <-s.quitDone:
		return true
	default:
		return false
	}
}

// Send sends a value to the subscription channel. If the subscription is closed, it returns an error.
func (s *Subscription[T]) Send(ctx context.Context, value T) error {
	select {
	case s.in <- value:
	case <-s.quitDone:
		return errors.Wrap(errs.ClosedResource, "subscription is closed")
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
	return nil
}

// SendError sends an error to the subscription error channel. If the subscription is closed, it returns an error.
func (s *Subscription[T]) SendError(ctx context.Context, err error) error {
	select {
	case s.err <- err:
	case <-s.quitDone:
		return errors.Wrap(errs.ClosedResource, "subscription is closed")
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
	return nil
}

func (s *Subscription[T]) run() {
	defer close(s.quitDone)

	for {
		select {
		case <-s.quit:
			return
		case value := <-s.in:
			select {
			case s.channel <- value:
			case <-s.quit:
				return
			}
		}
	}
}
