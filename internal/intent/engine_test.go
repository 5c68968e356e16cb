package intent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/events"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/resolver"
)

type capturingSink struct {
	delivered []struct {
		target message.AppID
		env    *message.Envelope
	}
}

func (s *capturingSink) Deliver(_ context.Context, target message.AppID, env *message.Envelope) {
	s.delivered = append(s.delivered, struct {
		target message.AppID
		env    *message.Envelope
	}{target, env})
}

func newEngineFixture(t *testing.T) (*Engine, *directory.Directory, *capturingSink, message.AppID) {
	t.Helper()
	dir := directory.Load(context.Background(), nil, nil, resolver.NullResolver{})
	handler := dir.RegisterNewInstance("https://handler.example/app")
	chEngine := channel.New(nil, &capturingSink{}, eventlistener.New())
	sink := &capturingSink{}
	eng := New(nil, dir, chEngine, sink)
	return eng, dir, sink, handler
}

func TestRaiseIntentDeliversEventAndResolvesResult(t *testing.T) {
	eng, dir, sink, handler := newEngineFixture(t)
	eng.AddIntentListener(handler, "StartChat", []string{"fdc3.contact"})

	raisedContext := json.RawMessage(`{"type":"fdc3.contact","name":"Joe"}`)
	resolution, err := eng.RaiseIntent(context.Background(), message.AppID{AppID: "raiser", InstanceID: "r1"}, "StartChat", raisedContext, nil)
	require.NoError(t, err)
	assert.Equal(t, handler, resolution.Source)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, handler, sink.delivered[0].target)
	assert.True(t, message.IsType(sink.delivered[0].env, events.TypeIntentEvent))

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		payload, err := eng.AwaitResult(context.Background(), resolution.RaiseIntentRequestUUID, time.Second)
		resultCh <- payload
		errCh <- err
	}()

	roomResult := json.RawMessage(`{"type":"fdc3.chat.room"}`)
	require.NoError(t, eng.DeliverResult(resolution.RaiseIntentRequestUUID, roomResult))

	select {
	case got := <-resultCh:
		assert.JSONEq(t, string(roomResult), string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	require.NoError(t, <-errCh)
	_ = dir
}

func TestRaiseIntentUnknownIntentReturnsNoAppsFound(t *testing.T) {
	eng, _, _, _ := newEngineFixture(t)
	_, err := eng.RaiseIntent(context.Background(), message.AppID{AppID: "raiser"}, "NoSuchIntent", json.RawMessage(`{"type":"fdc3.contact"}`), nil)
	assert.ErrorIs(t, err, message.ErrNoAppsFound)
}

func TestRaiseIntentMalformedContextRejected(t *testing.T) {
	eng, _, _, _ := newEngineFixture(t)
	_, err := eng.RaiseIntent(context.Background(), message.AppID{AppID: "raiser"}, "StartChat", json.RawMessage(`{"name":"no type"}`), nil)
	assert.ErrorIs(t, err, message.ErrResolveMalformedCtx)
}

func TestDeliverResultGrantsPrivateChannelAccessToRaiser(t *testing.T) {
	eng, _, _, handler := newEngineFixture(t)
	eng.AddIntentListener(handler, "StartChat", nil)

	raiser := message.AppID{AppID: "raiser", InstanceID: "r1"}
	resolution, err := eng.RaiseIntent(context.Background(), raiser, "StartChat", json.RawMessage(`{"type":"fdc3.contact"}`), nil)
	require.NoError(t, err)

	created := eng.channels.CreatePrivateChannel(handler)
	channelResult, _ := json.Marshal(map[string]string{"type": "private", "id": created.Channel.ID})

	done := make(chan struct{})
	go func() {
		_, _ = eng.AwaitResult(context.Background(), resolution.RaiseIntentRequestUUID, time.Second)
		close(done)
	}()
	require.NoError(t, eng.DeliverResult(resolution.RaiseIntentRequestUUID, channelResult))
	<-done

	assert.NoError(t, eng.channels.AddToPrivateChannelAllowedList(created.Channel.ID, raiser))
}

func TestRemoveIntentListenerDeregistersFromDirectory(t *testing.T) {
	eng, dir, _, handler := newEngineFixture(t)
	listenerUUID := eng.AddIntentListener(handler, "StartChat", []string{"fdc3.contact"})

	ai := dir.GetAppIntent("StartChat", "fdc3.contact", "")
	require.Len(t, ai.Apps, 1)

	eng.RemoveIntentListener(listenerUUID)

	ai = dir.GetAppIntent("StartChat", "fdc3.contact", "")
	assert.Len(t, ai.Apps, 0)
}

func TestAwaitResultTimesOut(t *testing.T) {
	eng, _, _, handler := newEngineFixture(t)
	eng.AddIntentListener(handler, "StartChat", nil)
	resolution, err := eng.RaiseIntent(context.Background(), message.AppID{AppID: "raiser"}, "StartChat", json.RawMessage(`{"type":"fdc3.contact"}`), nil)
	require.NoError(t, err)

	_, err = eng.AwaitResult(context.Background(), resolution.RaiseIntentRequestUUID, 10*time.Millisecond)
	assert.ErrorIs(t, err, message.ErrResolverTimeout)
}
