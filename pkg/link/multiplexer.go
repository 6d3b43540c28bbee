package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbirk/ipclink/pkg/log"
)

// Callbacks receive the activity of one registered operation.
type Callbacks struct {
	Next     func(*Response)
	Error    func(error)
	Complete func()
}

// CancelFunc removes an operation from the multiplexer. It is safe to call
// more than once.
type CancelFunc func()

// ContextProvider returns values merged into an operation's context right
// before it is transmitted.
type ContextProvider func(ctx context.Context, op Operation) (map[string]any, error)

type MultiplexerConfig struct {
	Channel       Channel
	CreateContext ContextProvider
	Logger        log.Logger
}

// Multiplexer correlates responses from a single channel with the operations
// that are in flight on it.
type Multiplexer struct {
	conf    MultiplexerConfig
	channel Channel
	mu      *sync.Mutex
	pending map[ID]*pendingRequest
}

type pendingRequest struct {
	typ       OperationType
	op        Operation
	callbacks Callbacks

	// guards sent so a stop is never written ahead of its request
	sendMu *sync.Mutex
	sent   bool

	// protected by Multiplexer.mu
	ended    bool
	finished bool
}

func NewMultiplexer(conf MultiplexerConfig) (*Multiplexer, error) {
	if conf.Channel == nil {
		return nil, ErrNoChannel
	}
	m := &Multiplexer{
		conf:    conf,
		channel: conf.Channel,
		mu:      &sync.Mutex{},
		pending: make(map[ID]*pendingRequest),
	}
	conf.Channel.OnMessage(m.handleResponse)
	if cc, ok := conf.Channel.(ClosingChannel); ok {
		cc.OnClose(m.handleClose)
	}
	return m, nil
}

func (m *Multiplexer) logDebug(msg string) {
	if m.conf.Logger != nil {
		m.conf.Logger.Debug(msg)
	}
}

func (m *Multiplexer) logWarn(msg string) {
	if m.conf.Logger != nil {
		m.conf.Logger.Warn(msg)
	}
}

// Pending returns the number of operations currently registered.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Has reports whether an operation with the given id is registered.
func (m *Multiplexer) Has(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// Request registers op and transmits it. When a context provider is
// configured the transmission happens asynchronously once it resolves, so
// operations may reach the channel out of call order.
func (m *Multiplexer) Request(ctx context.Context, op Operation, callbacks Callbacks) (CancelFunc, error) {
	if !op.Type.Valid() {
		return nil, fmt.Errorf("link: invalid operation type %q", op.Type)
	}

	req := &pendingRequest{
		typ:       op.Type,
		op:        op,
		callbacks: callbacks,
		sendMu:    &sync.Mutex{},
	}

	m.mu.Lock()
	if _, ok := m.pending[op.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOperation, op.ID)
	}
	m.pending[op.ID] = req
	m.mu.Unlock()

	cancel := func() {
		m.cancel(op.ID, req)
	}

	if m.conf.CreateContext == nil {
		m.transmit(op.ID, req)
		return cancel, nil
	}

	go func() {
		values, err := m.conf.CreateContext(ctx, op)
		if err != nil {
			m.fail(op.ID, req, fmt.Errorf("unable to create operation context: %w", err))
			return
		}
		m.mu.Lock()
		if m.pending[op.ID] != req {
			m.mu.Unlock()
			m.logDebug(fmt.Sprintf("Operation %s cancelled before transmission", op.ID))
			return
		}
		req.op = req.op.withContext(values)
		m.mu.Unlock()

		m.transmit(op.ID, req)
	}()

	return cancel, nil
}

func (m *Multiplexer) transmit(id ID, req *pendingRequest) {
	req.sendMu.Lock()

	m.mu.Lock()
	if m.pending[id] != req {
		m.mu.Unlock()
		req.sendMu.Unlock()
		return
	}
	op := req.op
	m.mu.Unlock()

	m.logDebug(fmt.Sprintf("Sending %s %s", op.Type, id))
	err := m.channel.SendMessage(newRequestMessage(op))
	if err == nil {
		req.sent = true
	}
	req.sendMu.Unlock()

	if err != nil {
		m.fail(id, req, fmt.Errorf("unable to send request: %w", err))
	}
}

// fail removes the record and reports err as its terminal event.
func (m *Multiplexer) fail(id ID, req *pendingRequest, err error) {
	m.mu.Lock()
	if m.pending[id] != req || req.finished {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	req.finished = true
	m.mu.Unlock()

	m.logWarn(fmt.Sprintf("Operation %s failed: %v", id, err))
	req.callbacks.Error(newClientError(err))
}

func (m *Multiplexer) cancel(id ID, req *pendingRequest) {
	m.mu.Lock()
	if m.pending[id] != req {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	complete := !req.finished
	req.finished = true
	stop := req.typ == OperationSubscription && !req.ended
	m.mu.Unlock()

	if complete {
		req.callbacks.Complete()
	}
	if !stop {
		return
	}

	req.sendMu.Lock()
	defer req.sendMu.Unlock()
	if !req.sent {
		return
	}
	m.logDebug(fmt.Sprintf("Stopping subscription %s", id))
	if err := m.channel.SendMessage(newStopMessage(id)); err != nil {
		m.logWarn(fmt.Sprintf("Unable to stop subscription %s: %v", id, err))
	}
}

func (m *Multiplexer) handleResponse(resp *Response) {
	if resp == nil || resp.ID == nil {
		return
	}
	id := *resp.ID

	m.mu.Lock()
	req, ok := m.pending[id]
	if ok && resp.endsStream() {
		req.ended = true
	}
	m.mu.Unlock()

	if !ok {
		m.logDebug(fmt.Sprintf("Dropping response for unknown operation %s", id))
		return
	}

	req.callbacks.Next(resp)

	if resp.isStopped() {
		m.mu.Lock()
		complete := !req.finished
		req.finished = true
		m.mu.Unlock()
		if complete {
			req.callbacks.Complete()
		}
	}
}

func (m *Multiplexer) handleClose(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[ID]*pendingRequest)
	m.mu.Unlock()

	if len(pending) > 0 {
		m.logWarn(fmt.Sprintf("Channel closed with %d operations pending: %v", len(pending), err))
	}

	for _, req := range pending {
		m.mu.Lock()
		complete := !req.finished
		req.finished = true
		req.ended = true
		m.mu.Unlock()
		if complete {
			req.callbacks.Complete()
		}
	}
}
