package link

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type ClientConfig struct {
	Link       *Link
	Middleware []Middleware
	// UUIDIDs switches operation ids from sequential numbers to uuid strings.
	UUIDIDs bool
}

// Client issues operations through a link and assigns their ids.
type Client struct {
	conf       ClientConfig
	link       *Link
	mu         *sync.Mutex
	middleware []Middleware
	requestID  atomic.Int64
}

func seedRequestID() int64 {
	return int64(rand.Uint32())
}

func NewClient(conf ClientConfig) (*Client, error) {
	if conf.Link == nil {
		return nil, fmt.Errorf("client requires a link")
	}
	c := &Client{
		conf:       conf,
		link:       conf.Link,
		mu:         &sync.Mutex{},
		middleware: append([]Middleware(nil), conf.Middleware...),
	}
	c.requestID.Store(seedRequestID())
	return c, nil
}

func (c *Client) Link() *Link {
	return c.link
}

func (c *Client) Use(middleware Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middleware = append(c.middleware, middleware)
}

func (c *Client) nextID() ID {
	if c.conf.UUIDIDs {
		return StringID(uuid.NewString())
	}
	return IntID(c.requestID.Add(1))
}

// Execute runs op through the middleware chain, assigning an id when op has
// none.
func (c *Client) Execute(ctx context.Context, op Operation) *Observable {
	if op.ID.IsZero() {
		op.ID = c.nextID()
	}
	c.mu.Lock()
	middleware := c.middleware
	c.mu.Unlock()
	return buildHandlerFunction(middleware, c.link.Execute)(ctx, op)
}

func (c *Client) Query(ctx context.Context, path string, input any, output any) error {
	return c.call(ctx, OperationQuery, path, input, output)
}

func (c *Client) Mutate(ctx context.Context, path string, input any, output any) error {
	return c.call(ctx, OperationMutation, path, input, output)
}

type callResult struct {
	value json.RawMessage
	err   error
}

func (c *Client) call(ctx context.Context, typ OperationType, path string, input any, output any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := make(chan callResult, 1)
	var (
		mu    sync.Mutex
		value json.RawMessage
	)

	sub := c.Execute(ctx, Operation{
		Type:  typ,
		Path:  path,
		Input: input,
	}).Subscribe(ObserverFuncs{
		OnNext: func(v json.RawMessage) {
			mu.Lock()
			value = v
			mu.Unlock()
		},
		OnError: func(err error) {
			ch <- callResult{err: err}
		},
		OnComplete: func() {
			mu.Lock()
			defer mu.Unlock()
			ch <- callResult{value: value}
		},
	})

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		return decode(res.value, output)
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	}
}

// Subscribe starts a subscription. It is stopped when ctx is done or the
// returned subscription is unsubscribed.
func (c *Client) Subscribe(ctx context.Context, path string, input any, observer Observer) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := c.Execute(ctx, Operation{
		Type:  OperationSubscription,
		Path:  path,
		Input: input,
	}).Subscribe(observer)

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Unsubscribe)
		go func() {
			// release the AfterFunc once the stream has ended on its own
			<-sub.Done()
			stop()
		}()
	}
	return sub, nil
}

// decode unmarshals a result value into output.
func decode(value json.RawMessage, output any) error {
	if output == nil {
		return nil
	}
	if err := json.Unmarshal(value, output); err != nil {
		return newClientError(fmt.Errorf("unable to decode result: %w", err))
	}
	return nil
}
