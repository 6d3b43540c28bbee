// Package linktest provides a scripted channel for testing code built on
// links without a host process.
package linktest

import (
	"errors"
	"slices"
	"sync"

	"github.com/kbirk/ipclink/pkg/link"
)

var ErrClosed = errors.New("linktest: channel closed")

// Channel records every outbound message and delivers responses only when
// the test calls Deliver or Close.
type Channel struct {
	mu        *sync.Mutex
	sent      []*link.Message
	handlers  []func(*link.Response)
	onClose   []func(error)
	sendErr   error
	closed    bool
	sentCh    chan *link.Message
	listeners int
}

func NewChannel() *Channel {
	return &Channel{
		mu:     &sync.Mutex{},
		sentCh: make(chan *link.Message, 1024),
	}
}

func (c *Channel) SendMessage(msg *link.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	select {
	case c.sentCh <- msg:
	default:
	}
	return nil
}

func (c *Channel) OnMessage(handler func(*link.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	c.listeners++
}

func (c *Channel) OnClose(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, handler)
}

// FailSends makes every following SendMessage return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Deliver hands resp to the registered handlers on the calling goroutine.
func (c *Channel) Deliver(resp *link.Response) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(resp)
	}
}

// Close marks the channel closed and reports err to the close handlers.
func (c *Channel) Close(err error) {
	c.mu.Lock()
	c.closed = true
	handlers := slices.Clone(c.onClose)
	c.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// Sent returns a copy of the messages sent so far.
func (c *Channel) Sent() []*link.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*link.Message(nil), c.sent...)
}

// SentCh yields each message as it is sent.
func (c *Channel) SentCh() <-chan *link.Message {
	return c.sentCh
}

// Stops returns the ids of the subscription.stop messages sent so far.
func (c *Channel) Stops() []link.ID {
	var ids []link.ID
	for _, msg := range c.Sent() {
		if msg.Method == link.MethodSubscriptionStop && msg.ID != nil {
			ids = append(ids, *msg.ID)
		}
	}
	return ids
}

// Listeners returns how many message handlers were registered.
func (c *Channel) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners
}
