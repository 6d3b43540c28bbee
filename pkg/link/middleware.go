package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kbirk/ipclink/pkg/log"
)

type Handler func(context.Context, Operation) *Observable
type Middleware func(context.Context, Operation, Handler) *Observable

func buildHandlerFunction(middleware []Middleware, final Handler) Handler {

	// start with the final handler
	chain := final

	// wrap from the last middleware to the first so the first runs outermost
	for i := len(middleware) - 1; i >= 0; i-- {
		m := middleware[i]
		next := chain
		chain = func(ctx context.Context, op Operation) *Observable {
			return m(ctx, op, next)
		}
	}

	return chain
}

// LoggingMiddleware logs the start, value count, duration and outcome of
// every operation.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(ctx context.Context, op Operation, next Handler) *Observable {
		return NewObservable(func(observer Observer) func() {
			start := time.Now()
			var count atomic.Int64
			logger.Debug(fmt.Sprintf("%s %s (%s) started", op.Type, op.Path, op.ID))

			sub := next(ctx, op).Subscribe(ObserverFuncs{
				OnNext: func(value json.RawMessage) {
					count.Add(1)
					observer.Next(value)
				},
				OnError: func(err error) {
					logger.Warn(fmt.Sprintf("%s %s (%s) failed after %s: %v", op.Type, op.Path, op.ID, time.Since(start), err))
					observer.Error(err)
				},
				OnComplete: func() {
					logger.Debug(fmt.Sprintf("%s %s (%s) completed after %s with %d values", op.Type, op.Path, op.ID, time.Since(start), count.Load()))
					observer.Complete()
				},
			})
			return sub.Unsubscribe
		})
	}
}
