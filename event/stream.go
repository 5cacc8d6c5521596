package event

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrStreamClosed  = errors.New("cannot notify closed stream")
	ErrStreamTimeout = errors.New("timed out sending message to stream")
)

type Stream[E any] interface {
	ID() string
	Notify(event E, timeout time.Duration) error
	Close()
}

// ChannelStream is a bounded, buffered subscriber. Notify blocks for at most
// the given timeout when the buffer is full, after which the stream is closed.
type ChannelStream[E, M any] struct {
	sync.Mutex

	id string

	closed   bool
	ch       chan M
	selector func(E) (M, bool)
}

func NewChannelStream[E, M any](
	id string,
	bufferSize int,
	selector func(event E) (M, bool),
) *ChannelStream[E, M] {
	return &ChannelStream[E, M]{
		id:       id,
		ch:       make(chan M, bufferSize),
		selector: selector,
	}
}

func (s *ChannelStream[E, M]) ID() string {
	return s.id
}

func (s *ChannelStream[E, M]) Notify(event E, timeout time.Duration) error {
	msg, ok := s.selector(event)
	if !ok {
		return nil
	}

	s.Lock()
	if s.closed {
		s.Unlock()
		return ErrStreamClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- msg:
	case <-timer.C:
		s.closed = true
		close(s.ch)
		s.Unlock()
		return ErrStreamTimeout
	}

	s.Unlock()
	return nil
}

func (s *ChannelStream[E, M]) Channel() <-chan M {
	return s.ch
}

func (s *ChannelStream[E, M]) Close() {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.ch)
}
