package testsupport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/message"
)

func TestWireAgentBroadcastRoundTrip(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender, _, err := h.WireAgent(ctx, "https://sender.example", "2.0")
	require.NoError(t, err)
	receiver, _, err := h.WireAgent(ctx, "https://receiver.example", "2.0")
	require.NoError(t, err)

	channels, err := receiver.GetUserChannels(ctx)
	require.NoError(t, err)
	ch := channels[0]
	require.NoError(t, sender.JoinUserChannel(ctx, ch.ID))
	require.NoError(t, receiver.JoinUserChannel(ctx, ch.ID))

	received := make(chan json.RawMessage, 1)
	listener, err := receiver.AddContextListener(ctx, nil, nil, func(c json.RawMessage) {
		received <- c
	})
	require.NoError(t, err)
	defer listener.Unsubscribe()

	payload := json.RawMessage(`{"type":"fdc3.instrument","id":{"ticker":"AAPL"}}`)
	require.NoError(t, sender.Broadcast(ctx, ch.ID, payload))

	select {
	case got := <-received:
		assert.JSONEq(t, string(payload), string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast to arrive over the wire")
	}
}

func TestWireAgentRaiseIntentRoundTrip(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target, targetID, err := h.WireAgent(ctx, "https://target.example", "2.0")
	require.NoError(t, err)
	raiser, _, err := h.WireAgent(ctx, "https://raiser.example", "2.0")
	require.NoError(t, err)

	resultCtx := json.RawMessage(`{"type":"fdc3.instrument.result","id":{"ticker":"MSFT"}}`)
	listener, err := target.AddIntentListener(ctx, "ViewChart", nil, func(c json.RawMessage) (json.RawMessage, error) {
		return resultCtx, nil
	})
	require.NoError(t, err)
	defer listener.Unsubscribe()

	resolution, err := raiser.RaiseIntent(ctx, "ViewChart", json.RawMessage(`{"type":"fdc3.instrument"}`), &targetID)
	require.NoError(t, err)
	assert.Equal(t, "ViewChart", resolution.Intent())

	result, err := resolution.GetResult(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(resultCtx), string(result))
}

func TestWireAgentUnsubscribedEventListenerStopsReceivingWithoutAffectingOthers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proxy, _, err := h.WireAgent(ctx, "https://listener.example", "2.0")
	require.NoError(t, err)

	firstEvents := make(chan struct{}, 4)
	first, err := proxy.AddEventListener(ctx, "userChannelChanged", func(*message.Envelope) {
		firstEvents <- struct{}{}
	})
	require.NoError(t, err)

	secondEvents := make(chan struct{}, 4)
	_, err = proxy.AddEventListener(ctx, "userChannelChanged", func(*message.Envelope) {
		secondEvents <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, proxy.JoinUserChannel(ctx, "fdc3.channel.1"))
	for _, ch := range []chan struct{}{firstEvents, secondEvents} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for userChannelChanged before unsubscribe")
		}
	}

	require.NoError(t, first.Unsubscribe())

	require.NoError(t, proxy.JoinUserChannel(ctx, "fdc3.channel.2"))
	select {
	case <-secondEvents:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for userChannelChanged on remaining listener")
	}

	select {
	case <-firstEvents:
		t.Fatal("unsubscribed listener still received an event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLocalAgentHeartbeatCleanupRemovesInstance(t *testing.T) {
	h := New(WithHeartbeat(10*time.Millisecond, 2))
	ctx := context.Background()

	// Register the instance directly, without a facade, so pings
	// routed to it go unanswered and the miss-threshold cleanup fires.
	selfID := h.Root.Directory.RegisterNewInstance("app.dying")
	h.Root.Monitor.Track(ctx, selfID)

	deadline := time.After(2 * time.Second)
	for {
		if _, known := h.Root.Directory.GetAppInstances(selfID.AppID); !known {
			return
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat cleanup never removed the unresponsive instance")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
