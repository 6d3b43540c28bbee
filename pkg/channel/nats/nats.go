package nats

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/kbirk/ipclink/pkg/channel"
)

const DefaultSubject = "ipclink"

// ServerTransport accepts UI connections over a NATS subject. Each UI
// publishes with its own reply inbox, which identifies the connection.
type ServerTransport struct {
	url                string
	subject            string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	nc                 *nats.Conn
	sub                *nats.Subscription
	connCh             chan channel.Connection
	mu                 *sync.Mutex
	closed             bool
	activeConns        map[string]*serverConnection
}

type ServerTransportConfig struct {
	URL                string
	Subject            string // Defaults to DefaultSubject
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ServerTransport{
		url:                config.URL,
		subject:            subject,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan channel.Connection, 100),
		mu:                 &sync.Mutex{},
		activeConns:        make(map[string]*serverConnection),
	}
}

// Subject returns the subject the host listens on.
func (t *ServerTransport) Subject() string {
	return t.subject
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		return fmt.Errorf("transport is already listening")
	}
	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	nc, err := nats.Connect(t.url, nats.Name("ipclink-host"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(t.subject, t.handleMsg)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to subject %s: %w", t.subject, err)
	}

	t.nc = nc
	t.sub = sub
	return nil
}

func (t *ServerTransport) handleMsg(msg *nats.Msg) {
	if msg.Reply == "" {
		// Without a reply inbox there is nowhere to send responses
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	conn, ok := t.activeConns[msg.Reply]
	if !ok {
		conn = &serverConnection{
			nc:                 t.nc,
			replyTo:            msg.Reply,
			maxSendMessageSize: t.maxSendMessageSize,
			maxRecvMessageSize: t.maxRecvMessageSize,
			requestCh:          make(chan []byte, 100),
			closed:             make(chan struct{}),
			once:               &sync.Once{},
		}

		select {
		case t.connCh <- conn:
		default:
			t.mu.Unlock()
			return
		}
		t.activeConns[msg.Reply] = conn

		go func(inbox string) {
			<-conn.closed
			t.mu.Lock()
			delete(t.activeConns, inbox)
			t.mu.Unlock()
		}(msg.Reply)
	}
	t.mu.Unlock()

	select {
	case conn.requestCh <- msg.Data:
	case <-conn.closed:
	default:
		// Channel full, drop message
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
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.connCh)

	conns := make([]*serverConnection, 0, len(t.activeConns))
	for _, conn := range t.activeConns {
		conns = append(conns, conn)
	}
	sub := t.sub
	nc := t.nc
	t.sub = nil
	t.nc = nil
	t.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
	return err
}

type serverConnection struct {
	nc                 *nats.Conn
	replyTo            string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	requestCh          chan []byte
	closed             chan struct{}
	once               *sync.Once
}

func (c *serverConnection) Send(data []byte) error {
	if err := channel.CheckMessageSize(len(data), c.maxSendMessageSize, "send"); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return channel.ErrConnectionClosed
	default:
	}
	return c.nc.Publish(c.replyTo, data)
}

func (c *serverConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.requestCh:
		if err := channel.CheckMessageSize(len(data), c.maxRecvMessageSize, "receive"); err != nil {
			return nil, err
		}
		return data, nil
	case <-c.closed:
		return nil, channel.ErrConnectionClosed
	}
}

func (c *serverConnection) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}

// ClientTransport connects the UI to a host listening on a NATS subject.
type ClientTransport struct {
	url                string
	subject            string
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
	nc                 *nats.Conn
	mu                 *sync.Mutex
}

type ClientTransportConfig struct {
	URL                string
	Subject            string // Defaults to DefaultSubject
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	subject := config.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &ClientTransport{
		url:                config.URL,
		subject:            subject,
		maxSendMessageSize: config.MaxSendMessageSize,
		maxRecvMessageSize: config.MaxRecvMessageSize,
		mu:                 &sync.Mutex{},
	}
}

func (t *ClientTransport) Connect() (channel.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc == nil {
		nc, err := nats.Connect(t.url, nats.Name("ipclink-ui"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t.nc = nc
	}

	// Each connection gets its own inbox, which the host keys on
	inbox := nats.NewInbox()
	responseCh := make(chan []byte, 100)
	closed := make(chan struct{})

	sub, err := t.nc.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case responseCh <- msg.Data:
		case <-closed:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to inbox: %w", err)
	}

	return &clientConnection{
		nc:                 t.nc,
		subject:            t.subject,
		inbox:              inbox,
		sub:                sub,
		responseCh:         responseCh,
		closed:             closed,
		once:               &sync.Once{},
		maxSendMessageSize: t.maxSendMessageSize,
		maxRecvMessageSize: t.maxRecvMessageSize,
	}, nil
}

// Close drops the shared NATS connection.
func (t *ClientTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
}

type clientConnection struct {
	nc                 *nats.Conn
	subject            string
	inbox              string
	sub                *nats.Subscription
	responseCh         chan []byte
	closed             chan struct{}
	once               *sync.Once
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

func (c *clientConnection) Send(data []byte) error {
	if err := channel.CheckMessageSize(len(data), c.maxSendMessageSize, "send"); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return channel.ErrConnectionClosed
	default:
	}
	return c.nc.PublishMsg(&nats.Msg{
		Subject: c.subject,
		Reply:   c.inbox,
		Data:    data,
	})
}

func (c *clientConnection) Receive() ([]byte, error) {
	select {
	case data := <-c.responseCh:
		if err := channel.CheckMessageSize(len(data), c.maxRecvMessageSize, "receive"); err != nil {
			return nil, err
		}
		return data, nil
	case <-c.closed:
		return nil, channel.ErrConnectionClosed
	}
}

func (c *clientConnection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.sub.Unsubscribe()
	})
	return err
}
