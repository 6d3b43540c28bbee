package link

import (
	"encoding/json"
	"sync"
)

// Observer receives the values of an operation followed by exactly one
// terminal event.
type Observer interface {
	Next(value json.RawMessage)
	Error(err error)
	Complete()
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are
// ignored.
type ObserverFuncs struct {
	OnNext     func(json.RawMessage)
	OnError    func(error)
	OnComplete func()
}

func (o ObserverFuncs) Next(value json.RawMessage) {
	if o.OnNext != nil {
		o.OnNext(value)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func (o ObserverFuncs) Complete() {
	if o.OnComplete != nil {
		o.OnComplete()
	}
}

// SubscribeFunc starts producing events for observer and returns the
// function that stops it.
type SubscribeFunc func(observer Observer) (teardown func())

// Observable is a lazy stream; nothing happens until Subscribe is called, and
// every call starts an independent execution.
type Observable struct {
	subscribe SubscribeFunc
}

func NewObservable(fn SubscribeFunc) *Observable {
	return &Observable{subscribe: fn}
}

func (o *Observable) Subscribe(observer Observer) *Subscription {
	s := &subscriber{
		observer: observer,
		mu:       &sync.Mutex{},
		done:     make(chan struct{}),
	}
	s.setTeardown(o.subscribe(s))
	return &Subscription{s: s}
}

// Subscription is the handle to a running observable.
type Subscription struct {
	s *subscriber
}

// Unsubscribe runs the teardown, which normally ends the stream with a
// completion, and then closes the subscription. Later calls do nothing.
func (s *Subscription) Unsubscribe() {
	s.s.unsubscribe()
	s.s.close()
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.s.done
}

// Closed reports whether a terminal event was delivered or the
// subscription was unsubscribed.
func (s *Subscription) Closed() bool {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	return s.s.closed
}

// subscriber delivers at most one terminal event and tears the producer
// down after it. Events are delivered one at a time: an event raised while
// another is being delivered, from any goroutine or from inside the observer,
// is queued and delivered by the goroutine already draining.
type subscriber struct {
	observer Observer
	mu       *sync.Mutex
	closed   bool
	done     chan struct{}
	teardown func()
	tornDown bool
	queue    []func()
	draining bool
}

func (s *subscriber) Next(value json.RawMessage) {
	s.emit(false, func() {
		s.observer.Next(value)
	})
}

func (s *subscriber) Error(err error) {
	s.emit(true, func() {
		s.observer.Error(err)
		s.unsubscribe()
	})
}

func (s *subscriber) Complete() {
	s.emit(true, func() {
		s.observer.Complete()
		s.unsubscribe()
	})
}

func (s *subscriber) emit(terminal bool, deliver func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if terminal {
		s.closed = true
		close(s.done)
	}
	s.queue = append(s.queue, deliver)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		next()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// close marks the subscription closed without delivering anything.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *subscriber) setTeardown(teardown func()) {
	s.mu.Lock()
	s.teardown = teardown
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.unsubscribe()
	}
}

func (s *subscriber) unsubscribe() {
	s.mu.Lock()
	if s.tornDown || s.teardown == nil {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	teardown := s.teardown
	s.mu.Unlock()
	teardown()
}
