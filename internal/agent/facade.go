package agent

import (
	"context"
	"encoding/json"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/message"
)

// ContextHandler receives a broadcast Context delivered to a listener.
type ContextHandler func(ctx json.RawMessage)

// IntentHandler runs a registered intent and returns its result: nil
// payload for void, or a Context/Channel JSON object (§4.4 step 4).
type IntentHandler func(ctx json.RawMessage) (json.RawMessage, error)

// EventHandler receives a raw event envelope for a generic
// addEventListener registration (§4.6).
type EventHandler func(env *message.Envelope)

// Listener is returned by every addXListener call. Unsubscribe is
// idempotent: calling it twice produces at most one outbound
// unsubscribe request (§5).
type Listener interface {
	UUID() string
	Unsubscribe() error
}

// IntentResolution is raiseIntent's immediate return value plus a way
// to await the eventual result (§4.4 steps 3-5).
type IntentResolution interface {
	Source() message.AppID
	Intent() string
	GetResult(ctx context.Context) (json.RawMessage, error)
}

// DesktopAgent is the public contract exposed identically by
// RootFacade (in-process dispatch) and ProxyAgent (dispatch via the
// correlator over a transport.Conn) — §4.8: "the facade running
// inside the root agent and the one running inside a proxy expose the
// identical public contract".
type DesktopAgent interface {
	GetUserChannels(ctx context.Context) ([]channel.Channel, error)
	GetCurrentChannel(ctx context.Context) (*channel.Channel, error)
	JoinUserChannel(ctx context.Context, channelID string) error
	LeaveCurrentChannel(ctx context.Context) error
	GetOrCreateChannel(ctx context.Context, channelID string) (channel.Channel, error)
	CreatePrivateChannel(ctx context.Context) (channel.Channel, error)
	AddContextListener(ctx context.Context, channelID, contextType *string, handler ContextHandler) (Listener, error)
	Broadcast(ctx context.Context, channelID string, contextPayload json.RawMessage) error
	GetCurrentContext(ctx context.Context, channelID string, contextType *string) (json.RawMessage, error)

	AddIntentListener(ctx context.Context, intentName string, acceptedContextTypes []string, handler IntentHandler) (Listener, error)
	RaiseIntent(ctx context.Context, intentName string, contextPayload json.RawMessage, appIdentifier *message.AppID) (IntentResolution, error)
	FindIntent(ctx context.Context, intentName, contextType, resultType string) (message.AppIntent, error)
	FindIntentsByContext(ctx context.Context, contextType, resultType string) ([]message.AppIntent, error)
	FindInstances(ctx context.Context, appID string) ([]message.AppID, error)

	AddEventListener(ctx context.Context, eventType string, handler EventHandler) (Listener, error)
	Open(ctx context.Context, appID string) (message.AppID, error)
}
