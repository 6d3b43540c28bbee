package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kbirk/ipclink/pkg/log"
)

const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultMaxRetries     = 5
)

// RetryConfig bounds connection attempts. Only establishing a connection is
// retried, never an operation.
type RetryConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     uint64
	Logger         log.Logger
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// ConnectWithRetry connects through the transport, backing off exponentially
// between failed attempts until the retries run out or ctx is done.
func ConnectWithRetry(ctx context.Context, transport ClientTransport, conf RetryConfig) (Connection, error) {
	conf = conf.withDefaults()

	var conn Connection
	operation := func() error {
		c, err := transport.Connect()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(conf.InitialBackoff),
				backoff.WithMaxInterval(conf.MaxBackoff),
			),
			conf.MaxRetries,
		),
		ctx,
	)

	err := backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		if conf.Logger != nil {
			conf.Logger.Warn(fmt.Sprintf("Connect failed: %v (next attempt in %s)", err, d))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect: %w", err)
	}
	return conn, nil
}
