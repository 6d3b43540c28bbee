package link_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kbirk/ipclink/pkg/link"
	"github.com/kbirk/ipclink/pkg/link/linktest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T, ch *linktest.Channel) *link.Link {
	l, err := link.NewLink(link.Config{
		Channel: ch,
	})
	require.NoError(t, err)
	return l
}

func marshal(t *testing.T, v any) string {
	bs, err := json.Marshal(v)
	require.NoError(t, err)
	return string(bs)
}

func TestNewLinkWithoutChannel(t *testing.T) {
	_, err := link.NewLink(link.Config{})
	require.ErrorIs(t, err, link.ErrNoChannel)
}

func TestQueryResolvesAndCompletes(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:    link.IntID(1),
		Type:  link.OperationQuery,
		Input: map[string]any{},
	}).Subscribe(rec)

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, `{"method":"request","operation":{"id":1,"type":"query","input":{}}}`, marshal(t, sent[0]))

	ch.Deliver(link.NewDataResponse(link.IntID(1), json.RawMessage(`"ok"`)))

	assert.Equal(t, []string{`"ok"`}, rec.Values())
	assert.True(t, rec.Completed())
	assert.False(t, l.Multiplexer().Has(link.IntID(1)))
	assert.Empty(t, ch.Stops())
}

func TestQueryIgnoresResponsesAfterFirstResult(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.StringID("q"),
		Type: link.OperationMutation,
	}).Subscribe(rec)

	ch.Deliver(link.NewDataResponse(link.StringID("q"), json.RawMessage(`1`)))
	ch.Deliver(link.NewDataResponse(link.StringID("q"), json.RawMessage(`2`)))
	ch.Deliver(link.NewStoppedResponse(link.StringID("q")))

	assert.Equal(t, []string{`1`}, rec.Values())
	assert.Equal(t, 1, rec.Terminals())
	assert.True(t, rec.Completed())
}

func TestSubscriptionStoppedByServer(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(2),
		Type: link.OperationSubscription,
	}).Subscribe(rec)

	ch.Deliver(link.NewDataResponse(link.IntID(2), json.RawMessage(`1`)))
	ch.Deliver(link.NewDataResponse(link.IntID(2), json.RawMessage(`2`)))
	assert.True(t, l.Multiplexer().Has(link.IntID(2)))

	ch.Deliver(link.NewStoppedResponse(link.IntID(2)))

	assert.Equal(t, []string{`1`, `2`}, rec.Values())
	assert.True(t, rec.Completed())
	assert.Empty(t, ch.Stops())
	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func TestSubscriptionUnsubscribeSendsStopOnce(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	sub := l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(3),
		Type: link.OperationSubscription,
	}).Subscribe(rec)

	sub.Unsubscribe()
	sub.Unsubscribe()

	require.Equal(t, []link.ID{link.IntID(3)}, ch.Stops())
	assert.Equal(t, `{"id":3,"method":"subscription.stop"}`, marshal(t, ch.Sent()[1]))
	assert.True(t, rec.Completed())
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, l.Multiplexer().Pending())

	// late data for the cancelled id has no effect
	ch.Deliver(link.NewDataResponse(link.IntID(3), json.RawMessage(`1`)))
	assert.Empty(t, rec.Values())
}

func TestUnsubscribeQueryDoesNotSendStop(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	for i, typ := range []link.OperationType{link.OperationQuery, link.OperationMutation} {
		rec := linktest.NewRecorder()
		sub := l.Execute(context.Background(), link.Operation{
			ID:   link.IntID(int64(i)),
			Type: typ,
		}).Subscribe(rec)
		sub.Unsubscribe()
		assert.True(t, rec.Completed())
	}

	assert.Empty(t, ch.Stops())
}

func TestErrorResponse(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(7),
		Type: link.OperationSubscription,
	}).Subscribe(rec)

	ch.Deliver(link.NewErrorResponse(link.IntID(7), link.ErrorPayload{
		Message: "not allowed",
		Code:    -32001,
		Data:    json.RawMessage(`{"reason":"auth"}`),
	}))

	require.Equal(t, 1, rec.Terminals())
	ce, ok := link.AsClientError(rec.Err())
	require.True(t, ok)
	assert.Equal(t, "not allowed", ce.Message)
	assert.Equal(t, -32001, ce.Code)

	var data struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, ce.UnmarshalData(&data))
	assert.Equal(t, "auth", data.Reason)

	// the host already ended the stream
	assert.Empty(t, ch.Stops())
	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func TestTransformFailure(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(8),
		Type: link.OperationQuery,
	}).Subscribe(rec)

	ch.Deliver(&link.Response{
		ID:     ptr(link.IntID(8)),
		Result: &link.Result{Type: "bogus"},
	})

	require.Equal(t, 1, rec.Terminals())
	assert.ErrorIs(t, rec.Err(), link.ErrInvalidResponse)
	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func TestSerializeFailure(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	sub := l.Execute(context.Background(), link.Operation{
		ID:    link.IntID(9),
		Type:  link.OperationQuery,
		Input: make(chan int),
	}).Subscribe(rec)

	require.Equal(t, 1, rec.Terminals())
	require.Error(t, rec.Err())
	assert.True(t, sub.Closed())
	assert.Empty(t, ch.Sent())
}

func TestChannelCloseEndsOperationsPrematurely(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	query := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(10),
		Type: link.OperationQuery,
	}).Subscribe(query)

	sub := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{
		ID:   link.IntID(11),
		Type: link.OperationSubscription,
	}).Subscribe(sub)

	ch.Close(errors.New("host exited"))

	for _, rec := range []*linktest.Recorder{query, sub} {
		require.Equal(t, 1, rec.Terminals())
		assert.ErrorIs(t, rec.Err(), link.ErrPrematureEnd)
		assert.EqualError(t, rec.Err(), "Operation ended prematurely")
	}
	assert.Empty(t, ch.Stops())
	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func TestResponsesAreCorrelatedByID(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	a := linktest.NewRecorder()
	b := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(1), Type: link.OperationSubscription}).Subscribe(a)
	l.Execute(context.Background(), link.Operation{ID: link.StringID("1"), Type: link.OperationSubscription}).Subscribe(b)

	ch.Deliver(link.NewDataResponse(link.StringID("1"), json.RawMessage(`"b"`)))
	ch.Deliver(link.NewDataResponse(link.IntID(1), json.RawMessage(`"a"`)))

	assert.Equal(t, []string{`"a"`}, a.Values())
	assert.Equal(t, []string{`"b"`}, b.Values())
}

func TestStaleResponsesAreDropped(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(1), Type: link.OperationSubscription}).Subscribe(rec)

	assert.NotPanics(t, func() {
		ch.Deliver(&link.Response{Result: &link.Result{Type: link.ResultData, Data: json.RawMessage(`1`)}})
		ch.Deliver(link.NewDataResponse(link.IntID(42), json.RawMessage(`1`)))
		ch.Deliver(link.NewStoppedResponse(link.IntID(43)))
		ch.Deliver(nil)
	})

	assert.Empty(t, rec.Events())
	assert.Equal(t, 1, l.Multiplexer().Pending())
}

func TestDuplicateIDIsRejected(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	first := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(5), Type: link.OperationSubscription}).Subscribe(first)

	second := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(5), Type: link.OperationQuery}).Subscribe(second)

	assert.ErrorIs(t, second.Err(), link.ErrDuplicateOperation)
	assert.Len(t, ch.Sent(), 1)

	ch.Deliver(link.NewDataResponse(link.IntID(5), json.RawMessage(`"first"`)))
	assert.Equal(t, []string{`"first"`}, first.Values())
	assert.NoError(t, first.Err())
}

func TestSendFailure(t *testing.T) {
	ch := linktest.NewChannel()
	ch.FailSends(errors.New("pipe broken"))
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	sub := l.Execute(context.Background(), link.Operation{ID: link.IntID(1), Type: link.OperationSubscription}).Subscribe(rec)

	require.Equal(t, 1, rec.Terminals())
	assert.ErrorContains(t, rec.Err(), "pipe broken")
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, l.Multiplexer().Pending())

	sub.Unsubscribe()
	assert.Empty(t, ch.Stops())
}

func TestSingleListenerPerLink(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	for i := 0; i < 5; i++ {
		l.Execute(context.Background(), link.Operation{ID: link.IntID(int64(i)), Type: link.OperationQuery}).Subscribe(linktest.NewRecorder())
	}
	assert.Equal(t, 1, ch.Listeners())
}

func TestContextProvider(t *testing.T) {
	ch := linktest.NewChannel()
	l, err := link.NewLink(link.Config{
		Channel:       ch,
		CreateContext: link.MetadataContextProvider,
	})
	require.NoError(t, err)

	ctx := link.NewContextWithMetadata(context.Background(), link.Metadata{"token": "1234"})
	ctx = link.AppendMetadataToContext(ctx, link.Metadata{"window": "main"})

	rec := linktest.NewRecorder()
	l.Execute(ctx, link.Operation{
		ID:      link.IntID(1),
		Type:    link.OperationQuery,
		Context: map[string]any{"window": "settings", "locale": "en"},
	}).Subscribe(rec)

	var msg *link.Message
	select {
	case msg = <-ch.SentCh():
	case <-time.After(time.Second):
		t.Fatal("request was not sent")
	}

	require.NotNil(t, msg.Operation)
	assert.Equal(t, map[string]any{
		"token":  "1234",
		"window": "main",
		"locale": "en",
	}, msg.Operation.Context)

	ch.Deliver(link.NewDataResponse(link.IntID(1), json.RawMessage(`true`)))
	assert.True(t, rec.Completed())
}

func TestContextProviderError(t *testing.T) {
	ch := linktest.NewChannel()
	l, err := link.NewLink(link.Config{
		Channel: ch,
		CreateContext: func(ctx context.Context, op link.Operation) (map[string]any, error) {
			return nil, errors.New("no session")
		},
	})
	require.NoError(t, err)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(1), Type: link.OperationQuery}).Subscribe(rec)

	select {
	case <-rec.Done():
	case <-time.After(time.Second):
		t.Fatal("operation did not terminate")
	}
	assert.ErrorContains(t, rec.Err(), "no session")
	assert.Empty(t, ch.Sent())
	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func TestCancelWhileContextPending(t *testing.T) {
	ch := linktest.NewChannel()
	release := make(chan struct{})
	resolved := make(chan struct{})
	l, err := link.NewLink(link.Config{
		Channel: ch,
		CreateContext: func(ctx context.Context, op link.Operation) (map[string]any, error) {
			<-release
			defer close(resolved)
			return map[string]any{"late": true}, nil
		},
	})
	require.NoError(t, err)

	rec := linktest.NewRecorder()
	sub := l.Execute(context.Background(), link.Operation{ID: link.IntID(1), Type: link.OperationSubscription}).Subscribe(rec)
	sub.Unsubscribe()
	close(release)
	<-resolved

	assert.Never(t, func() bool { return len(ch.Sent()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, rec.Completed())
}

func TestQueryMatchesEquivalentNumericID(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	rec := linktest.NewRecorder()
	l.Execute(context.Background(), link.Operation{ID: link.IntID(7), Type: link.OperationQuery}).Subscribe(rec)

	var resp link.Response
	require.NoError(t, json.Unmarshal([]byte(`{"id":7.0,"result":{"type":"data","data":1}}`), &resp))
	ch.Deliver(&resp)

	assert.Equal(t, []string{`1`}, rec.Values())
	assert.True(t, rec.Completed())
	assert.False(t, l.Multiplexer().Has(link.IntID(7)))
}

func TestConcurrentOperations(t *testing.T) {
	ch := linktest.NewChannel()
	l := newTestLink(t, ch)

	const n = 100

	// echo every request back as its result
	go func() {
		for msg := range ch.SentCh() {
			if msg.Method != link.MethodRequest {
				continue
			}
			ch.Deliver(link.NewDataResponse(msg.Operation.ID, msg.Operation.Input.(json.RawMessage)))
		}
	}()

	wg := &sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := linktest.NewRecorder()
			l.Execute(context.Background(), link.Operation{
				ID:    link.IntID(int64(i)),
				Type:  link.OperationQuery,
				Input: i,
			}).Subscribe(rec)

			select {
			case <-rec.Done():
			case <-time.After(5 * time.Second):
				t.Errorf("operation %d timed out", i)
				return
			}
			assert.Equal(t, []string{fmt.Sprint(i)}, rec.Values())
			assert.True(t, rec.Completed())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, l.Multiplexer().Pending())
}

func ptr[T any](v T) *T {
	return &v
}
