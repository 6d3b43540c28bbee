package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kbirk/ipclink/pkg/channel"
	"github.com/kbirk/ipclink/pkg/link"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoMessage struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// Harness is a connected UI client and echo host.
type Harness struct {
	Client  *link.Client
	Channel *channel.Channel
	Host    *EchoHost
}

// Connect accepts one host connection from server, dials it from the UI side
// and wires a link client over it. Everything is torn down with the test.
func Connect(t *testing.T, server channel.ServerTransport, client channel.ClientTransport, codec channel.Codec) *Harness {
	t.Helper()

	accepted := make(chan *EchoHost, 1)
	go func() {
		conn, err := server.Accept()
		if err != nil {
			close(accepted)
			return
		}
		host := NewEchoHost(channel.NewPeer(conn, codec))
		accepted <- host
		host.Serve()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := channel.ConnectWithRetry(ctx, client, channel.RetryConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
	})
	require.NoError(t, err)

	ch, err := channel.New(channel.Config{
		Connection: conn,
		Codec:      codec,
	})
	require.NoError(t, err)

	l, err := link.NewLink(link.Config{
		Channel: ch,
	})
	require.NoError(t, err)

	c, err := link.NewClient(link.ClientConfig{
		Link: l,
	})
	require.NoError(t, err)

	var host *EchoHost
	select {
	case host = <-accepted:
	case <-time.After(5 * time.Second):
	}
	require.NotNil(t, host, "host connection was not accepted")

	t.Cleanup(func() {
		ch.Close()
		host.Close()
	})

	return &Harness{
		Client:  c,
		Channel: ch,
		Host:    host,
	}
}

// RunTransportSuite runs the end to end operation scenarios over a transport.
func RunTransportSuite(t *testing.T, server channel.ServerTransport, client channel.ClientTransport, codec channel.Codec) {
	require.NoError(t, server.Listen())
	t.Cleanup(func() {
		server.Close()
	})

	h := Connect(t, server, client, codec)

	t.Run("Query", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			var out echoMessage
			err := h.Client.Query(context.Background(), "echo", echoMessage{Text: "ping", Count: i}, &out)
			require.NoError(t, err)
			assert.Equal(t, echoMessage{Text: "ping", Count: i}, out)
		}
	})

	t.Run("Mutation", func(t *testing.T) {
		var out echoMessage
		err := h.Client.Mutate(context.Background(), "echo", echoMessage{Text: "set"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "set", out.Text)
	})

	t.Run("Error", func(t *testing.T) {
		err := h.Client.Query(context.Background(), PathError, nil, nil)
		require.Error(t, err)

		cerr, ok := link.AsClientError(err)
		require.True(t, ok)
		assert.Equal(t, "echo failed", cerr.Message)
		assert.Equal(t, 42, cerr.Code)
	})

	t.Run("SubscriptionStoppedByHost", func(t *testing.T) {
		values := make(chan json.RawMessage, 16)
		var terminal error
		done := make(chan struct{})

		_, err := h.Client.Subscribe(context.Background(), PathFinite, echoMessage{Text: "tick"}, link.ObserverFuncs{
			OnNext: func(v json.RawMessage) {
				values <- v
			},
			OnError: func(err error) {
				terminal = err
				close(done)
			},
			OnComplete: func() {
				close(done)
			},
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			require.Fail(t, "subscription did not complete")
		}
		assert.NoError(t, terminal)
		assert.Len(t, values, FiniteCount)
	})

	t.Run("SubscriptionStoppedByUI", func(t *testing.T) {
		values := make(chan json.RawMessage, 1024)
		mu := &sync.Mutex{}
		completions := 0
		var failure error

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := h.Client.Subscribe(ctx, "ticker", echoMessage{Text: "tick"}, link.ObserverFuncs{
			OnNext: func(v json.RawMessage) {
				select {
				case values <- v:
				default:
				}
			},
			OnError: func(err error) {
				mu.Lock()
				failure = err
				mu.Unlock()
			},
			OnComplete: func() {
				mu.Lock()
				completions++
				mu.Unlock()
			},
		})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			select {
			case <-values:
			case <-time.After(5 * time.Second):
				require.Fail(t, "no subscription value received")
			}
		}

		cancel()
		<-sub.Done()

		assert.Eventually(t, func() bool {
			return len(h.Host.Stops()) > 0
		}, 5*time.Second, 10*time.Millisecond)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return completions == 1
		}, 5*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.NoError(t, failure)
		mu.Unlock()
	})

	t.Run("ChannelClosed", func(t *testing.T) {
		// Runs last: it tears the connection down
		errCh := make(chan error, 1)
		_, err := h.Client.Subscribe(context.Background(), "ticker", nil, link.ObserverFuncs{
			OnError: func(err error) {
				errCh <- err
			},
		})
		require.NoError(t, err)

		h.Channel.Close()

		select {
		case err := <-errCh:
			assert.True(t, errors.Is(err, link.ErrPrematureEnd))
		case <-time.After(5 * time.Second):
			require.Fail(t, "subscription did not end")
		}
		assert.Equal(t, 0, h.Client.Link().Multiplexer().Pending())
	})
}
