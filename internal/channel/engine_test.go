package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/message"
)

type delivery struct {
	target message.AppID
	env    *message.Envelope
}

type capturingSink struct {
	delivered []delivery
}

func (s *capturingSink) Deliver(_ context.Context, target message.AppID, env *message.Envelope) {
	s.delivered = append(s.delivered, delivery{target: target, env: env})
}

func newEngine() (*Engine, *capturingSink) {
	sink := &capturingSink{}
	return New(nil, sink, eventlistener.New()), sink
}

func appID(instance string) message.AppID {
	return message.AppID{AppID: "app." + instance, InstanceID: instance}
}

func TestJoinAndGetCurrentChannel(t *testing.T) {
	e, _ := newEngine()
	source := appID("a")

	require.NoError(t, e.JoinUserChannel(context.Background(), source, "fdc3.channel.1"))
	got := e.GetCurrentChannel(source)
	require.NotNil(t, got)
	assert.Equal(t, "fdc3.channel.1", got.ID)
}

func TestJoinUnknownUserChannelRejected(t *testing.T) {
	e, _ := newEngine()
	err := e.JoinUserChannel(context.Background(), appID("a"), "not-a-real-channel")
	assert.ErrorIs(t, err, message.ErrNoChannelFound)
}

func TestBroadcastNeverRoutesBackToSender(t *testing.T) {
	e, sink := newEngine()
	sender := appID("sender")
	listenerOwner := appID("listener")

	ch, err := e.GetOrCreateChannel("shared")
	require.NoError(t, err)

	_, err = e.AddContextListener(context.Background(), sender, &ch.ID, nil)
	require.NoError(t, err)
	_, err = e.AddContextListener(context.Background(), listenerOwner, &ch.ID, nil)
	require.NoError(t, err)

	payload := json.RawMessage(`{"type":"fdc3.instrument"}`)
	require.NoError(t, e.Broadcast(context.Background(), sender, ch.ID, payload))

	require.Len(t, sink.delivered, 1)
	assert.True(t, sink.delivered[0].target.Equal(listenerOwner))
}

func TestBroadcastRejectsMalformedContext(t *testing.T) {
	e, _ := newEngine()
	ch, err := e.GetOrCreateChannel("shared")
	require.NoError(t, err)

	err = e.Broadcast(context.Background(), appID("a"), ch.ID, json.RawMessage(`{"noType":true}`))
	assert.ErrorIs(t, err, message.ErrChannelMalformedCtx)
}

func TestPrivateChannelAccessDeniedForNonMember(t *testing.T) {
	e, _ := newEngine()
	owner := appID("owner")
	stranger := appID("stranger")

	info := e.CreatePrivateChannel(owner)

	err := e.Broadcast(context.Background(), stranger, info.ID, json.RawMessage(`{"type":"fdc3.instrument"}`))
	assert.ErrorIs(t, err, message.ErrAccessDenied)

	_, err = e.AddContextListener(context.Background(), stranger, &info.ID, nil)
	assert.ErrorIs(t, err, message.ErrAccessDenied)
}

func TestAddToPrivateChannelAllowedListGrantsAccess(t *testing.T) {
	e, _ := newEngine()
	owner := appID("owner")
	grantee := appID("grantee")

	info := e.CreatePrivateChannel(owner)
	require.NoError(t, e.AddToPrivateChannelAllowedList(info.ID, grantee))

	_, err := e.AddContextListener(context.Background(), grantee, &info.ID, nil)
	assert.NoError(t, err)
}

func TestGetOrCreateChannelConflictsWithPrivateChannel(t *testing.T) {
	e, _ := newEngine()
	info := e.CreatePrivateChannel(appID("owner"))

	_, err := e.GetOrCreateChannel(info.ID)
	assert.ErrorIs(t, err, message.ErrAccessDenied)
}

func TestRemoveInstanceDropsListenersAndHistoryAuthorship(t *testing.T) {
	e, _ := newEngine()
	leaving := appID("leaving")
	staying := appID("staying")

	ch, err := e.GetOrCreateChannel("shared")
	require.NoError(t, err)
	listenerUUID, err := e.AddContextListener(context.Background(), leaving, &ch.ID, nil)
	require.NoError(t, err)

	require.NoError(t, e.Broadcast(context.Background(), leaving, ch.ID, json.RawMessage(`{"type":"fdc3.instrument"}`)))

	e.RemoveInstance(context.Background(), leaving)

	e.mu.Lock()
	_, stillRegistered := e.listenersByUUID[listenerUUID]
	e.mu.Unlock()
	assert.False(t, stillRegistered)

	got, err := e.GetCurrentContext(staying, ch.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
