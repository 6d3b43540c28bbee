package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kbirk/ipclink/pkg/channel"
	"github.com/kbirk/ipclink/pkg/channel/channeltest"
	"github.com/kbirk/ipclink/pkg/link"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeTransportJSON(t *testing.T) {
	transport := channel.NewPipeTransport(0)
	channeltest.RunTransportSuite(t, transport, transport, channel.JSONCodec{})
}

func TestPipeTransportBinary(t *testing.T) {
	transport := channel.NewPipeTransport(0)
	channeltest.RunTransportSuite(t, transport, transport, channel.BinaryCodec{})
}

func TestPipeClosesBothEnds(t *testing.T) {
	a, b := channel.NewPipe(1)

	require.NoError(t, a.Send([]byte("hello")))
	bs, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(bs))

	require.NoError(t, b.Close())

	_, err = a.Receive()
	assert.ErrorIs(t, err, channel.ErrConnectionClosed)
	assert.ErrorIs(t, a.Send([]byte("late")), channel.ErrConnectionClosed)
}

func TestPipeCopiesSentData(t *testing.T) {
	a, b := channel.NewPipe(1)

	data := []byte("abc")
	require.NoError(t, a.Send(data))
	data[0] = 'x'

	bs, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(bs))
}

func TestNewChannelRequiresConnection(t *testing.T) {
	_, err := channel.New(channel.Config{})
	assert.Error(t, err)
}

func TestChannelDispatchesResponses(t *testing.T) {
	ui, host := channel.NewPipe(0)

	ch, err := channel.New(channel.Config{Connection: ui})
	require.NoError(t, err)
	defer ch.Close()

	received := make(chan *link.Response, 4)
	ch.OnMessage(func(resp *link.Response) {
		received <- resp
	})

	peer := channel.NewPeer(host, nil)
	require.NoError(t, peer.Send(link.NewDataResponse(link.IntID(1), json.RawMessage(`"a"`))))
	require.NoError(t, peer.Send(link.NewStoppedResponse(link.IntID(1))))

	for _, expected := range []link.ResultType{link.ResultData, link.ResultStopped} {
		select {
		case resp := <-received:
			assert.Equal(t, link.IntID(1), *resp.ID)
			assert.Equal(t, expected, resp.Result.Type)
		case <-time.After(time.Second):
			require.Fail(t, "response not dispatched")
		}
	}

	id := link.IntID(1)
	require.NoError(t, ch.SendMessage(&link.Message{ID: &id, Method: link.MethodSubscriptionStop}))
	msg, err := peer.Receive()
	require.NoError(t, err)
	assert.Equal(t, link.MethodSubscriptionStop, msg.Method)
}

func TestChannelClosesOnUndecodableResponse(t *testing.T) {
	ui, host := channel.NewPipe(0)

	errs := make(chan error, 1)
	ch, err := channel.New(channel.Config{
		Connection: ui,
		ErrHandler: func(err error) {
			errs <- err
		},
	})
	require.NoError(t, err)

	closed := make(chan error, 1)
	ch.OnClose(func(err error) {
		closed <- err
	})
	ch.OnMessage(func(*link.Response) {
		assert.Fail(t, "no response expected")
	})

	require.NoError(t, host.Send([]byte("garbage")))

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		require.Fail(t, "channel did not close")
	}
	assert.Error(t, <-closed)
	assert.Error(t, <-errs)

	assert.ErrorIs(t, ch.SendMessage(&link.Message{Method: link.MethodRequest}), channel.ErrClosed)

	// late registrations observe the closure immediately
	called := false
	ch.OnClose(func(error) { called = true })
	assert.True(t, called)
}

func TestChannelCloseEndsPendingOperations(t *testing.T) {
	ui, host := channel.NewPipe(0)
	defer host.Close()

	ch, err := channel.New(channel.Config{Connection: ui})
	require.NoError(t, err)

	l, err := link.NewLink(link.Config{Channel: ch})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(1),
		Type: link.OperationQuery,
	}).Subscribe(link.ObserverFuncs{
		OnError: func(err error) {
			errCh <- err
		},
	})

	require.NoError(t, ch.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, link.ErrPrematureEnd))
	case <-time.After(time.Second):
		require.Fail(t, "operation did not end")
	}
}
