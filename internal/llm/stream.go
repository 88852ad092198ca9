package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine to the pull-based Stream
// interface. The producer writes events to the channel and returns when the
// fragment source is exhausted; Recv surfaces the producer's error (if any)
// after the last buffered event, then io.EOF.
type eventStream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc

	closeOnce sync.Once
	err       error
	errSet    bool
}

// newEventStream starts produce in its own goroutine and returns a Stream
// over its output. The stream owns a derived context: Close cancels the
// producer and drains it.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		defer close(s.events)
		err := produce(ctx, s.events)
		if err == nil {
			err = ctx.Err()
		}
		s.errCh <- err
	}()

	return s
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if ok {
		return event, nil
	}

	if !s.errSet {
		s.err = <-s.errCh
		s.errSet = true
	}
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so the producer goroutine can finish.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}
