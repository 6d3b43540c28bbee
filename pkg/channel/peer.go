package channel

import (
	"fmt"
	"sync"

	"github.com/kbirk/ipclink/pkg/link"
)

// Peer is the host end of a connection: it reads the UI's messages and
// writes responses back.
type Peer struct {
	conn  Connection
	codec Codec
	mu    *sync.Mutex
}

func NewPeer(conn Connection, codec Codec) *Peer {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Peer{
		conn:  conn,
		codec: codec,
		mu:    &sync.Mutex{},
	}
}

func (p *Peer) Receive() (*link.Message, error) {
	bs, err := p.conn.Receive()
	if err != nil {
		return nil, err
	}
	return p.codec.DecodeMessage(bs)
}

func (p *Peer) Send(resp *link.Response) error {
	bs, err := p.codec.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("unable to encode response: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Send(bs)
}

func (p *Peer) Close() error {
	return p.conn.Close()
}
