package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/message"
)

func TestRegisterAndDispatchResolvesMatchingResponse(t *testing.T) {
	c := New(nil)
	await := c.Register(context.Background(), "req-1", func(env *message.Envelope) bool {
		return env.Type == "broadcastResponse"
	}, 0)

	resp, err := message.NewResponse("broadcastResponse", "req-1", nil, map[string]string{"ok": "true"})
	require.NoError(t, err)
	assert.True(t, c.Dispatch(resp))

	got, err := await()
	require.NoError(t, err)
	assert.Equal(t, "broadcastResponse", got.Type)
}

func TestDispatchIgnoresUnknownRequestUUID(t *testing.T) {
	c := New(nil)
	resp, err := message.NewResponse("broadcastResponse", "no-such-request", nil, map[string]string{})
	require.NoError(t, err)
	assert.False(t, c.Dispatch(resp))
}

func TestDispatchRejectedByTypeGuardLeavesRequestPending(t *testing.T) {
	c := New(nil)
	await := c.Register(context.Background(), "req-1", func(env *message.Envelope) bool {
		return env.Type == "broadcastResponse"
	}, 0)

	wrongType, err := message.NewResponse("openResponse", "req-1", nil, map[string]string{})
	require.NoError(t, err)
	assert.False(t, c.Dispatch(wrongType))

	rightType, err := message.NewResponse("broadcastResponse", "req-1", nil, map[string]string{})
	require.NoError(t, err)
	assert.True(t, c.Dispatch(rightType))

	got, err := await()
	require.NoError(t, err)
	assert.Equal(t, "broadcastResponse", got.Type)
}

func TestDispatchErrorPayloadResolvesAwaitWithError(t *testing.T) {
	c := New(nil)
	await := c.Register(context.Background(), "req-1", nil, 0)

	errResp, err := message.NewErrorResponse("broadcastResponse", "req-1", nil, "NoChannelFound")
	require.NoError(t, err)
	assert.True(t, c.Dispatch(errResp))

	_, err = await()
	assert.ErrorIs(t, err, message.FDC3Error("NoChannelFound"))
}

func TestRegisterTimesOut(t *testing.T) {
	c := New(nil)
	await := c.Register(context.Background(), "req-1", nil, 10*time.Millisecond)

	_, err := await()
	assert.Error(t, err)
}

func TestRegisterContextCancellationUnblocksAwait(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	await := c.Register(ctx, "req-1", nil, 0)

	cancel()
	_, err := await()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainAllRejectsEveryPendingRequest(t *testing.T) {
	c := New(nil)
	awaitA := c.Register(context.Background(), "a", nil, 0)
	awaitB := c.Register(context.Background(), "b", nil, 0)

	drainErr := assert.AnError
	c.DrainAll(drainErr)

	_, errA := awaitA()
	_, errB := awaitB()
	assert.ErrorIs(t, errA, drainErr)
	assert.ErrorIs(t, errB, drainErr)
}

func TestOnEventDispatchEventAndRemoveEvent(t *testing.T) {
	c := New(nil)
	received := make(chan *message.Envelope, 1)
	c.OnEvent("listener-1", func(env *message.Envelope) {
		received <- env
	})

	assert.ElementsMatch(t, []string{"listener-1"}, c.EventListenerUUIDs())

	env, err := message.NewEvent("userChannelChangedEvent", map[string]string{})
	require.NoError(t, err)
	c.DispatchEvent("listener-1", env)

	select {
	case got := <-received:
		assert.Equal(t, "userChannelChangedEvent", got.Type)
	case <-time.After(time.Second):
		t.Fatal("event callback was not invoked")
	}

	c.RemoveEvent("listener-1")
	assert.Empty(t, c.EventListenerUUIDs())
}

func TestDispatchEventForUnknownListenerIsNoop(t *testing.T) {
	c := New(nil)
	env, err := message.NewEvent("userChannelChangedEvent", map[string]string{})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		c.DispatchEvent("no-such-listener", env)
	})
}
