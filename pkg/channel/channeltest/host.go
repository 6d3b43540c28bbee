// Package channeltest provides an in-process host and a shared test suite
// for exercising transports end to end.
package channeltest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kbirk/ipclink/pkg/channel"
	"github.com/kbirk/ipclink/pkg/link"
)

const (
	PathError  = "error"
	PathFinite = "finite"

	FiniteCount    = 3
	TickerInterval = 5 * time.Millisecond
)

// EchoHost answers queries and mutations with their input, fails operations
// on PathError, and streams the input to subscriptions until they are
// stopped. Subscriptions on PathFinite end after FiniteCount values.
type EchoHost struct {
	peer  *channel.Peer
	mu    *sync.Mutex
	subs  map[link.ID]chan struct{}
	stops []link.ID
	done  chan struct{}
}

func NewEchoHost(peer *channel.Peer) *EchoHost {
	return &EchoHost{
		peer: peer,
		mu:   &sync.Mutex{},
		subs: make(map[link.ID]chan struct{}),
		done: make(chan struct{}),
	}
}

// Serve handles messages until the connection ends.
func (h *EchoHost) Serve() error {
	defer h.stopAll()

	for {
		msg, err := h.peer.Receive()
		if err != nil {
			return err
		}

		switch msg.Method {
		case link.MethodRequest:
			if msg.Operation != nil {
				h.handleRequest(*msg.Operation)
			}
		case link.MethodSubscriptionStop:
			if msg.ID != nil {
				h.handleStop(*msg.ID)
			}
		}
	}
}

// Stops returns the ids of the subscriptions the UI stopped.
func (h *EchoHost) Stops() []link.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]link.ID(nil), h.stops...)
}

// Close stops every running subscription.
func (h *EchoHost) Close() error {
	h.stopAll()
	return h.peer.Close()
}

func inputOf(op link.Operation) json.RawMessage {
	switch v := op.Input.(type) {
	case json.RawMessage:
		if len(v) > 0 {
			return v
		}
	case nil:
	default:
		if bs, err := json.Marshal(v); err == nil {
			return bs
		}
	}
	return json.RawMessage("null")
}

func (h *EchoHost) handleRequest(op link.Operation) {
	if op.Path == PathError {
		h.peer.Send(link.NewErrorResponse(op.ID, link.ErrorPayload{
			Message: "echo failed",
			Code:    42,
		}))
		return
	}

	if op.Type != link.OperationSubscription {
		h.peer.Send(link.NewDataResponse(op.ID, inputOf(op)))
		return
	}

	stop := make(chan struct{})
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return
	default:
	}
	h.subs[op.ID] = stop
	h.mu.Unlock()

	go h.stream(op, stop)
}

func (h *EchoHost) stream(op link.Operation, stop chan struct{}) {
	ticker := time.NewTicker(TickerInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if op.Path == PathFinite && sent == FiniteCount {
			h.mu.Lock()
			delete(h.subs, op.ID)
			h.mu.Unlock()
			h.peer.Send(link.NewStoppedResponse(op.ID))
			return
		}
		if err := h.peer.Send(link.NewDataResponse(op.ID, inputOf(op))); err != nil {
			return
		}
		sent++
	}
}

func (h *EchoHost) handleStop(id link.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stops = append(h.stops, id)
	if stop, ok := h.subs[id]; ok {
		close(stop)
		delete(h.subs, id)
	}
}

func (h *EchoHost) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return
	default:
		close(h.done)
	}
	for id, stop := range h.subs {
		close(stop)
		delete(h.subs, id)
	}
}
