// Package events defines the wire shapes and delivery sink for every
// *Event envelope the root publishes to proxies (§4.3, §4.4, §4.6,
// §4.7), plus the Sink interface channel/intent/heartbeat depend on to
// actually deliver one without needing to know about connections.
package events

import (
	"context"
	"encoding/json"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// Event type discriminators, from spec.md §4.3/§4.4/§4.6/§4.7.
const (
	TypeChannelChanged                  = "channelChangedEvent"
	TypeBroadcast                       = "broadcastEvent"
	TypePrivateChannelOnAddListener     = "privateChannelOnAddContextListenerEvent"
	TypePrivateChannelOnUnsubscribe     = "privateChannelOnUnsubscribeEvent"
	TypePrivateChannelOnDisconnect      = "privateChannelOnDisconnectEvent"
	TypeIntentEvent                     = "intentEvent"
)

// FDC3 DesktopAgent event types an EventListener can be registered
// for, plus the "allEvents" wildcard (§4.6).
const (
	EventUserChannelChanged = "userChannelChanged"
	EventAddContextListener = "addContextListener"
	EventUnsubscribe        = "unsubscribe"
	EventDisconnect         = "disconnect"
	EventAllEvents          = "allEvents"
)

// ChannelChangedPayload is published on joinUserChannel/leaveCurrentChannel.
type ChannelChangedPayload struct {
	NewChannelID *string `json:"newChannelId"`
}

// BroadcastPayload is published to every matching context listener.
// ListenerUUID pins the event to the specific local listener it was
// computed for — spec.md's wire shape names only channelId/context/
// originatingApp, but since broadcast fan-out is computed per-listener
// (possibly several per instance, each with a different contextType
// filter), the listener identity must travel with the event for the
// proxy to invoke the right callback instead of re-matching blindly.
type BroadcastPayload struct {
	ChannelID     string          `json:"channelId"`
	Context       json.RawMessage `json:"context"`
	OriginatingApp message.AppID  `json:"originatingApp"`
	ListenerUUID  string          `json:"listenerUUID"`
}

// PrivateChannelListenerEventPayload covers
// PrivateChannelOnAddContextListenerEvent/OnUnsubscribeEvent/
// OnDisconnectEvent, which all share the same shape: which channel,
// which app triggered it, and which local listener should be notified.
type PrivateChannelListenerEventPayload struct {
	ChannelID    string        `json:"channelId"`
	TriggeringApp message.AppID `json:"triggeringApp"`
	ListenerUUID string        `json:"listenerUUID"`
}

// IntentEventPayload is delivered to the chosen handler instance.
type IntentEventPayload struct {
	Intent               string          `json:"intent"`
	Context              json.RawMessage `json:"context"`
	RaiseIntentRequestUUID string        `json:"raiseIntentRequestUuid"`
}

// Sink delivers one event envelope to a specific live instance. The
// root implements it by looking up the instance's connection; in the
// in-process facade case "delivery" is a direct local callback
// invocation instead of a wire write, but the interface is the same
// either way.
type Sink interface {
	Deliver(ctx context.Context, target message.AppID, env *message.Envelope)
}

// Build constructs an event envelope of the given type.
func Build(eventType string, payload any) (*message.Envelope, error) {
	return message.NewEvent(eventType, payload)
}
