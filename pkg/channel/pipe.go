package channel

import (
	"fmt"
	"sync"
)

const DefaultPipeBufferSize = 64

// pipeConnection is one end of an in-memory connection.
type pipeConnection struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// NewPipe returns the two ends of an in-memory connection, for hosts that
// run the UI in the same process and for tests. Closing either end closes
// both.
func NewPipe(bufferSize int) (Connection, Connection) {
	if bufferSize <= 0 {
		bufferSize = DefaultPipeBufferSize
	}
	a := make(chan []byte, bufferSize)
	b := make(chan []byte, bufferSize)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConnection{in: a, out: b, done: done, once: once},
		&pipeConnection{in: b, out: a, done: done, once: once}
}

func (c *pipeConnection) Send(data []byte) error {
	bs := append([]byte(nil), data...)
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.out <- bs:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

func (c *pipeConnection) Receive() ([]byte, error) {
	select {
	case bs := <-c.in:
		return bs, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

func (c *pipeConnection) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// PipeTransport hands out in-memory connections. It serves as both the
// client and the server transport of an in-process host.
type PipeTransport struct {
	bufferSize int
	connCh     chan Connection
	mu         *sync.Mutex
	listening  bool
	closed     bool
}

func NewPipeTransport(bufferSize int) *PipeTransport {
	return &PipeTransport{
		bufferSize: bufferSize,
		connCh:     make(chan Connection, 16),
		mu:         &sync.Mutex{},
	}
}

func (t *PipeTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listening {
		return fmt.Errorf("transport is already listening")
	}
	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	t.listening = true
	return nil
}

func (t *PipeTransport) Accept() (Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, fmt.Errorf("transport is closed")
	}
	return conn, nil
}

func (t *PipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.connCh)
	return nil
}

func (t *PipeTransport) Connect() (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.listening || t.closed {
		return nil, fmt.Errorf("transport is not listening")
	}

	client, server := NewPipe(t.bufferSize)
	select {
	case t.connCh <- server:
		return client, nil
	default:
		return nil, fmt.Errorf("transport backlog is full")
	}
}
