// Package channel turns a message oriented Connection into the channel a
// link multiplexes its operations over, and provides the host side
// counterpart.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kbirk/ipclink/pkg/link"
	"github.com/kbirk/ipclink/pkg/log"
)

var ErrClosed = errors.New("channel closed")

type Config struct {
	Connection Connection
	Codec      Codec
	ErrHandler func(error)
	Logger     log.Logger
}

// Channel is the UI end of a connection. It implements link.ClosingChannel:
// responses are decoded and dispatched one at a time on a single receive
// goroutine, and the close handlers run once when the connection ends.
type Channel struct {
	conf          Config
	conn          Connection
	codec         Codec
	mu            *sync.Mutex
	handler       func(*link.Response)
	closeHandlers []func(error)
	receiving     bool
	closed        bool
	closeErr      error
	done          chan struct{}
}

func New(conf Config) (*Channel, error) {
	if conf.Connection == nil {
		return nil, fmt.Errorf("channel requires a connection")
	}
	codec := conf.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Channel{
		conf:  conf,
		conn:  conf.Connection,
		codec: codec,
		mu:    &sync.Mutex{},
		done:  make(chan struct{}),
	}, nil
}

func (c *Channel) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Channel) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

func (c *Channel) handleError(err error) {
	c.logError("Encountered error: " + err.Error())
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}
}

func (c *Channel) SendMessage(msg *link.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	bs, err := c.codec.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("unable to encode message: %w", err)
	}
	return c.conn.Send(bs)
}

// OnMessage registers the response handler and starts receiving. Only the
// first handler is used.
func (c *Channel) OnMessage(handler func(*link.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.receiving {
		c.logError("Response handler already registered, ignoring")
		return
	}
	c.handler = handler
	c.receiving = true

	go c.receiveLoop()
}

// OnClose registers a handler called once when the channel closes. Handlers
// registered after closure are called immediately.
func (c *Channel) OnClose(handler func(error)) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		handler(err)
		return
	}
	c.closeHandlers = append(c.closeHandlers, handler)
	c.mu.Unlock()
}

// Done is closed after the close handlers have run.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) Close() error {
	err := c.conn.Close()
	c.shutdown(ErrClosed)
	return err
}

func (c *Channel) receiveLoop() {
	for {
		c.logDebug("Waiting for message")
		bs, err := c.conn.Receive()
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				c.logDebug("Connection closed normally")
			} else {
				c.handleError(err)
			}
			c.shutdown(err)
			return
		}

		resp, err := c.codec.DecodeResponse(bs)
		if err != nil {
			c.handleError(err)
			c.conn.Close()
			c.shutdown(err)
			return
		}

		c.handler(resp)
	}
}

func (c *Channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	handlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
	close(c.done)
}
