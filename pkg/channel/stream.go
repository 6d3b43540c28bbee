package channel

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

// StreamConnection frames messages over a byte stream with a 4 byte big
// endian length prefix. It backs the tcp and unix transports.
type StreamConnection struct {
	conn               net.Conn
	mu                 *sync.Mutex
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

func NewStreamConnection(conn net.Conn, maxSend uint32, maxRecv uint32) *StreamConnection {
	return &StreamConnection{
		conn:               conn,
		mu:                 &sync.Mutex{},
		maxSendMessageSize: maxSend,
		maxRecvMessageSize: maxRecv,
	}
}

func (c *StreamConnection) Send(data []byte) error {
	if err := CheckMessageSize(len(data), c.maxSendMessageSize, "send"); err != nil {
		return err
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

func (c *StreamConnection) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, normalizeReadError(err)
	}
	length := binary.BigEndian.Uint32(header)

	if err := CheckMessageSize(int(length), c.maxRecvMessageSize, "receive"); err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, normalizeReadError(err)
	}
	return data, nil
}

func (c *StreamConnection) Close() error {
	return c.conn.Close()
}

func normalizeReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}
