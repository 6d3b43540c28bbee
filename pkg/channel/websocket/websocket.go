package websocket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kbirk/ipclink/pkg/channel"
)

const DefaultPath = "/ipc"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from a local origin chosen by the host application
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Connection carries one envelope per websocket message.
type Connection struct {
	conn               *websocket.Conn
	messageType        int
	mu                 *sync.Mutex
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

func newConnection(conn *websocket.Conn, text bool, maxSend uint32, maxRecv uint32) *Connection {
	messageType := websocket.BinaryMessage
	if text {
		messageType = websocket.TextMessage
	}
	if maxRecv > 0 {
		conn.SetReadLimit(int64(maxRecv))
	}
	return &Connection{
		conn:               conn,
		messageType:        messageType,
		mu:                 &sync.Mutex{},
		maxSendMessageSize: maxSend,
		maxRecvMessageSize: maxRecv,
	}
}

func (c *Connection) Send(data []byte) error {
	if err := channel.CheckMessageSize(len(data), c.maxSendMessageSize, "send"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.WriteMessage(c.messageType, data)
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return channel.ErrConnectionClosed
	}
	return err
}

func (c *Connection) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
			return nil, channel.ErrConnectionClosed
		}
		return nil, err
	}

	if err := channel.CheckMessageSize(len(data), c.maxRecvMessageSize, "receive"); err != nil {
		return nil, err
	}

	return data, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Send a close frame first, bounded so a dead peer cannot block us
	deadline := time.Now().Add(time.Second)
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)

	closeErr := c.conn.Close()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// ServerTransport accepts websocket connections from the UI.
type ServerTransport struct {
	address            string
	path               string
	text               bool
	tlsConfig          *tls.Config
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	listener           net.Listener
	server             *http.Server
	connCh             chan channel.Connection
	mu                 *sync.Mutex
	closed             bool
}

type ServerTransportConfig struct {
	Address            string      // host:port, port 0 picks a free port
	Path               string      // Defaults to DefaultPath
	Text               bool        // Send text frames instead of binary, for JSON envelopes
	TLSConfig          *tls.Config // Optional
	MaxSendMessageSize uint32      // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32      // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	path := config.Path
	if path == "" {
		path = DefaultPath
	}
	return &ServerTransport{
		address:            config.Address,
		path:               path,
		text:               config.Text,
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

	if t.server != nil {
		return fmt.Errorf("transport is already listening")
	}
	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	l, err := net.Listen("tcp", t.address)
	if err != nil {
		return err
	}
	if t.tlsConfig != nil {
		l = tls.NewListener(l, t.tlsConfig)
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc(t.path, t.handleWebSocket)

	t.server = &http.Server{
		Handler: mux,
	}

	server := t.server
	go func() {
		// Serve only returns http.ErrServerClosed after Close
		_ = server.Serve(l)
	}()

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

func (t *ServerTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wsConn := newConnection(conn, t.text, t.maxSendMessageSize, t.maxRecvMessageSize)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		conn.Close()
		return
	}
	select {
	case t.connCh <- wsConn:
	default:
		// Channel is full, close the connection
		conn.Close()
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

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ClientTransport dials the host's websocket endpoint.
type ClientTransport struct {
	url                string
	text               bool
	tlsConfig          *tls.Config
	handshakeTimeout   time.Duration
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

type ClientTransportConfig struct {
	Address            string // host:port
	Path               string // Defaults to DefaultPath
	Text               bool
	TLSConfig          *tls.Config // Switches the scheme to wss
	HandshakeTimeout   time.Duration
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	scheme := "ws"
	if config.TLSConfig != nil {
		scheme = "wss"
	}
	path := config.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{Scheme: scheme, Host: config.Address, Path: path}

	return &ClientTransport{
		url:                u.String(),
		text:               config.Text,
		tlsConfig:          config.TLSConfig,
		handshakeTimeout:   config.HandshakeTimeout,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

// URL returns the endpoint the transport dials.
func (t *ClientTransport) URL() string {
	return t.url
}

func (t *ClientTransport) Connect() (channel.Connection, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  t.tlsConfig,
		HandshakeTimeout: t.handshakeTimeout,
	}

	conn, _, err := dialer.Dial(t.url, nil)
	if err != nil {
		return nil, err
	}

	return newConnection(conn, t.text, t.maxSendMessageSize, t.maxRecvMessageSize), nil
}
