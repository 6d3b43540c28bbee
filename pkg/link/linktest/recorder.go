package linktest

import (
	"encoding/json"
	"sync"
)

// Event is one notification observed by a Recorder. Exactly one of the
// fields is meaningful: Value for next, Err for error, Complete for complete.
type Event struct {
	Value    json.RawMessage
	Err      error
	Complete bool
}

// Recorder is a link.Observer that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

func (r *Recorder) Next(value json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Value: value})
}

func (r *Recorder) Error(err error) {
	r.terminal(Event{Err: err})
}

func (r *Recorder) Complete() {
	r.terminal(Event{Complete: true})
}

func (r *Recorder) terminal(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := r.terminals() == 0
	r.events = append(r.events, e)
	if first {
		close(r.done)
	}
}

func (r *Recorder) terminals() int {
	n := 0
	for _, e := range r.events {
		if e.Err != nil || e.Complete {
			n++
		}
	}
	return n
}

// Done is closed on the first terminal event.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Values returns the next values as strings, in order.
func (r *Recorder) Values() []string {
	var values []string
	for _, e := range r.Events() {
		if e.Err == nil && !e.Complete {
			values = append(values, string(e.Value))
		}
	}
	return values
}

// Terminals returns how many error or complete events were received.
func (r *Recorder) Terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals()
}

// Completed reports whether the only terminal event was a completion.
func (r *Recorder) Completed() bool {
	events := r.Events()
	return r.Terminals() == 1 && len(events) > 0 && events[len(events)-1].Complete
}

// Err returns the first error received, if any.
func (r *Recorder) Err() error {
	for _, e := range r.Events() {
		if e.Err != nil {
			return e.Err
		}
	}
	return nil
}
