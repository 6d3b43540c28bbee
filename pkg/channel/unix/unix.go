package unix

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/kbirk/ipclink/pkg/channel"
)

// ServerTransport accepts host side connections on a Unix socket.
type ServerTransport struct {
	socketPath         string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	listener           net.Listener
	connCh             chan channel.Connection
	mu                 *sync.Mutex
	closed             bool
}

type ServerTransportConfig struct {
	SocketPath         string // Path to the Unix socket file
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		socketPath:         config.SocketPath,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan channel.Connection, 16),
		mu:                 &sync.Mutex{},
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}
	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	// Remove a stale socket file left by a previous host
	if err := os.RemoveAll(t.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	l, err := net.Listen("unix", t.socketPath)
	if err != nil {
		return err
	}
	t.listener = l

	go t.acceptLoop(l)

	return nil
}

func (t *ServerTransport) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			continue
		}

		streamConn := channel.NewStreamConnection(conn, t.maxSendMessageSize, t.maxRecvMessageSize)

		t.mu.Lock()
		if !t.closed {
			select {
			case t.connCh <- streamConn:
			default:
				conn.Close()
			}
		} else {
			conn.Close()
		}
		t.mu.Unlock()
	}
}

func (t *ServerTransport) Accept() (channel.Connection, error) {
	conn, ok := <-t.connCh
	if !ok {
		return nil, fmt.Errorf("transport is closed")
	}
	return conn, nil
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.connCh)

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	os.RemoveAll(t.socketPath)

	return err
}

// ClientTransport dials the host's Unix socket.
type ClientTransport struct {
	socketPath         string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

type ClientTransportConfig struct {
	SocketPath         string
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		socketPath:         config.SocketPath,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

func (t *ClientTransport) Connect() (channel.Connection, error) {
	conn, err := net.Dial("unix", t.socketPath)
	if err != nil {
		return nil, err
	}
	return channel.NewStreamConnection(conn, t.maxSendMessageSize, t.maxRecvMessageSize), nil
}
