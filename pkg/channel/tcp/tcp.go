package tcp

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/kbirk/ipclink/pkg/channel"
)

// setNoDelay sets the TCP_NODELAY option on a TCP connection
func setNoDelay(conn net.Conn, noDelay bool) error {
	switch c := conn.(type) {
	case *net.TCPConn:
		return c.SetNoDelay(noDelay)
	case *tls.Conn:
		if tcpConn, ok := c.NetConn().(*net.TCPConn); ok {
			return tcpConn.SetNoDelay(noDelay)
		}
	}
	return nil
}

// ServerTransport accepts host side connections over TCP, optionally
// wrapped in TLS.
type ServerTransport struct {
	address            string
	noDelay            bool
	tlsConfig          *tls.Config
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	listener           net.Listener
	connCh             chan channel.Connection
	mu                 *sync.Mutex
	closed             bool
}

type ServerTransportConfig struct {
	Address            string      // host:port, port 0 picks a free port
	NoDelay            bool        // Disable Nagle's algorithm for better latency
	TLSConfig          *tls.Config // Optional, see LoadServerTLSConfig
	MaxSendMessageSize uint32      // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32      // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		address:            config.Address,
		noDelay:            config.NoDelay,
		tlsConfig:          config.TLSConfig,
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

	var l net.Listener
	var err error
	if t.tlsConfig != nil {
		l, err = tls.Listen("tcp", t.address, t.tlsConfig)
	} else {
		l, err = net.Listen("tcp", t.address)
	}
	if err != nil {
		return err
	}
	t.listener = l

	go t.acceptLoop(l)

	return nil
}

// Addr returns the bound address once listening.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
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

		if err := setNoDelay(conn, t.noDelay); err != nil {
			conn.Close()
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

	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// ClientTransport dials the host over TCP, optionally wrapped in TLS.
type ClientTransport struct {
	address            string
	noDelay            bool
	tlsConfig          *tls.Config
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

type ClientTransportConfig struct {
	Address            string
	NoDelay            bool
	TLSConfig          *tls.Config // Optional, see LoadClientTLSConfig
	MaxSendMessageSize uint32      // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32      // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		address:            config.Address,
		noDelay:            config.NoDelay,
		tlsConfig:          config.TLSConfig,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

func (t *ClientTransport) Connect() (channel.Connection, error) {
	var conn net.Conn
	var err error
	if t.tlsConfig != nil {
		conn, err = tls.Dial("tcp", t.address, t.tlsConfig)
	} else {
		conn, err = net.Dial("tcp", t.address)
	}
	if err != nil {
		return nil, err
	}

	if err := setNoDelay(conn, t.noDelay); err != nil {
		conn.Close()
		return nil, err
	}

	return channel.NewStreamConnection(conn, t.maxSendMessageSize, t.maxRecvMessageSize), nil
}
