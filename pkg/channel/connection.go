package channel

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned by Receive and Send once either side has
// closed the connection normally.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is a bidirectional, message oriented pipe between the UI and
// the host. Messages arrive whole and in the order they were sent.
type Connection interface {
	// Send sends a message to the remote peer
	Send(data []byte) error

	// Receive blocks until a message is received from the remote peer
	Receive() ([]byte, error)

	// Close closes the connection
	Close() error
}

// ClientTransport establishes connections from the UI side
type ClientTransport interface {
	Connect() (Connection, error)
}

// ServerTransport accepts connections on the host side
type ServerTransport interface {
	// Listen starts listening for incoming connections
	Listen() error

	// Accept blocks until a new connection is available
	Accept() (Connection, error)

	// Close stops listening and closes the transport
	Close() error
}

// CheckMessageSize enforces an optional size limit, 0 meaning no limit.
func CheckMessageSize(size int, limit uint32, direction string) error {
	if limit > 0 && uint32(size) > limit {
		return fmt.Errorf("message size %d exceeds %s limit %d", size, direction, limit)
	}
	return nil
}
