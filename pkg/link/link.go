// Package link carries queries, mutations and subscriptions from a UI process
// to its host over a single message channel.
//
// A Link owns one Multiplexer, which keeps the table of operations in flight
// and routes every response from the channel to the operation it belongs to.
// Execute wraps a single operation in an Observable: subscribing transmits
// the operation, unsubscribing cancels it, and the observer always sees
// exactly one terminal event.
package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kbirk/ipclink/pkg/log"
)

type Config struct {
	Channel       Channel
	Transformer   Transformer
	CreateContext ContextProvider
	Logger        log.Logger
}

type Link struct {
	id          uuid.UUID
	conf        Config
	mux         *Multiplexer
	transformer Transformer
}

func NewLink(conf Config) (*Link, error) {
	mux, err := NewMultiplexer(MultiplexerConfig{
		Channel:       conf.Channel,
		CreateContext: conf.CreateContext,
		Logger:        conf.Logger,
	})
	if err != nil {
		return nil, err
	}
	transformer := conf.Transformer
	if transformer == nil {
		transformer = JSONTransformer{}
	}
	l := &Link{
		id:          uuid.New(),
		conf:        conf,
		mux:         mux,
		transformer: transformer,
	}
	l.logDebug("Link created")
	return l, nil
}

func (l *Link) ID() uuid.UUID {
	return l.id
}

// Multiplexer exposes the link's request table for inspection.
func (l *Link) Multiplexer() *Multiplexer {
	return l.mux
}

func (l *Link) logDebug(msg string) {
	if l.conf.Logger != nil {
		l.conf.Logger.Debug(fmt.Sprintf("link %s: %s", l.id, msg))
	}
}

// Execute returns an observable that runs op once per subscription. The
// operation id must not be reused while a previous subscription with the
// same id is still running.
func (l *Link) Execute(ctx context.Context, op Operation) *Observable {
	return NewObservable(func(observer Observer) func() {
		input, err := l.transformer.Serialize(op.Input)
		if err != nil {
			observer.Error(newClientError(fmt.Errorf("unable to serialize input: %w", err)))
			return nil
		}
		op.Input = input

		var done atomic.Bool
		handle := &deferredCancel{mu: &sync.Mutex{}}

		cancel, err := l.mux.Request(ctx, op, Callbacks{
			Error: func(err error) {
				done.Store(true)
				observer.Error(newClientError(err))
				handle.cancel()
			},
			Complete: func() {
				if !done.Load() {
					done.Store(true)
					observer.Error(&ClientError{
						Message: ErrPrematureEnd.Error(),
						Cause:   ErrPrematureEnd,
					})
					return
				}
				observer.Complete()
			},
			Next: func(resp *Response) {
				value, stopped, err := transformResult(resp, l.transformer)
				if err != nil {
					observer.Error(err)
					return
				}
				if stopped {
					done.Store(true)
					return
				}
				observer.Next(value)
				if op.Type != OperationSubscription {
					done.Store(true)
					handle.cancel()
					observer.Complete()
				}
			},
		})
		if err != nil {
			observer.Error(newClientError(err))
			return nil
		}
		handle.set(cancel)

		return func() {
			done.Store(true)
			handle.cancel()
		}
	})
}

// deferredCancel holds a cancel request made before the multiplexer handed
// back its CancelFunc and replays it once the function is known.
type deferredCancel struct {
	mu        *sync.Mutex
	fn        CancelFunc
	requested bool
}

func (d *deferredCancel) set(fn CancelFunc) {
	d.mu.Lock()
	d.fn = fn
	requested := d.requested
	d.mu.Unlock()
	if requested {
		fn()
	}
}

func (d *deferredCancel) cancel() {
	d.mu.Lock()
	fn := d.fn
	if fn == nil {
		d.requested = true
	}
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}
