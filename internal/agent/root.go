package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/events"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/heartbeat"
	"github.com/finos-labs/fdc3agent/internal/intent"
	"github.com/finos-labs/fdc3agent/internal/message"
)

// Root bundles the engines every per-instance facade dispatches into.
// One Root is shared process-wide; one RootFacade exists per connected
// instance (§5: "the root is unambiguously process-wide").
type Root struct {
	Log            *logrus.Entry
	Channels       *channel.Engine
	Intents        *intent.Engine
	Directory      *directory.Directory
	EventListeners *eventlistener.Registry
	Router         *Router
	Monitor        *heartbeat.Monitor
	RequestTimeout time.Duration
}

// RootFacade implements DesktopAgent for one in-process instance,
// dispatching directly into the shared Root's engines instead of
// going over a transport.Conn (§4.8).
type RootFacade struct {
	root *Root
	self message.AppID

	mu                     sync.Mutex
	contextHandlers        map[string]ContextHandler // listenerUUID -> handler
	intentHandlersByIntent map[string]IntentHandler
	intentListenerToIntent map[string]string
	eventHandlersByUUID    map[string]eventHandlerEntry
}

// eventHandlerEntry pairs a locally-registered event callback with the
// event type it was registered for, keyed by listenerUUID so that
// unsubscribing one listener doesn't silence others of the same type
// (§4.6).
type eventHandlerEntry struct {
	eventType string
	handler   EventHandler
}

// NewRootFacade constructs the facade for self and registers it with
// root's Router so events/pings addressed to self reach it.
func NewRootFacade(root *Root, self message.AppID) *RootFacade {
	f := &RootFacade{
		root:                   root,
		self:                   self,
		contextHandlers:        make(map[string]ContextHandler),
		intentHandlersByIntent: make(map[string]IntentHandler),
		intentListenerToIntent: make(map[string]string),
		eventHandlersByUUID:    make(map[string]eventHandlerEntry),
	}
	root.Router.Register(self.InstanceID, f.receive)
	return f
}

// Close deregisters the facade from the router; it does not itself
// run cleanupDisconnectedProxy — that is the heartbeat monitor's job.
func (f *RootFacade) Close() {
	f.root.Router.Unregister(f.self.InstanceID)
}

func (f *RootFacade) receive(ctx context.Context, env *message.Envelope) {
	switch env.Type {
	case events.TypeBroadcast:
		var payload events.BroadcastPayload
		if err := message.DecodePayload(env, &payload); err != nil {
			return
		}
		f.mu.Lock()
		h := f.contextHandlers[payload.ListenerUUID]
		f.mu.Unlock()
		if h != nil {
			h(payload.Context)
		}

	case events.TypeIntentEvent:
		var payload events.IntentEventPayload
		if err := message.DecodePayload(env, &payload); err != nil {
			return
		}
		f.mu.Lock()
		h := f.intentHandlersByIntent[payload.Intent]
		f.mu.Unlock()
		if h == nil {
			return
		}
		result, err := h(payload.Context)
		if err != nil {
			f.root.Log.WithError(err).WithField("intent", payload.Intent).Warn("agent: intent handler returned an error")
			return
		}
		if err := f.root.Intents.DeliverResult(payload.RaiseIntentRequestUUID, result); err != nil {
			f.root.Log.WithError(err).Warn("agent: failed to deliver intent result")
		}

	case events.TypeChannelChanged:
		f.dispatchEvent(events.EventUserChannelChanged, env)
	case events.TypePrivateChannelOnAddListener:
		f.dispatchEvent(events.EventAddContextListener, env)
	case events.TypePrivateChannelOnUnsubscribe:
		f.dispatchEvent(events.EventUnsubscribe, env)
	case events.TypePrivateChannelOnDisconnect:
		f.dispatchEvent(events.EventDisconnect, env)

	case message.TypeHeartbeatPingRequest:
		// In-process instances have no real wire round trip: answering
		// the ping is just telling the monitor directly that self is
		// still alive (§4.7).
		if f.root.Monitor != nil {
			f.root.Monitor.RecordPong(f.self.InstanceID, env.Meta.RequestUUID)
		}
	}
}

func (f *RootFacade) dispatchEvent(eventType string, env *message.Envelope) {
	f.mu.Lock()
	var handlers []EventHandler
	for _, entry := range f.eventHandlersByUUID {
		if entry.eventType == eventType || entry.eventType == events.EventAllEvents {
			handlers = append(handlers, entry.handler)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

type uuidListener struct {
	uuid        string
	unsubscribe func() error
	once        sync.Once
	err         error
}

func (l *uuidListener) UUID() string { return l.uuid }
func (l *uuidListener) Unsubscribe() error {
	l.once.Do(func() { l.err = l.unsubscribe() })
	return l.err
}

func (f *RootFacade) GetUserChannels(context.Context) ([]channel.Channel, error) {
	return f.root.Channels.GetUserChannels(), nil
}

func (f *RootFacade) GetCurrentChannel(context.Context) (*channel.Channel, error) {
	return f.root.Channels.GetCurrentChannel(f.self), nil
}

func (f *RootFacade) JoinUserChannel(ctx context.Context, channelID string) error {
	return f.root.Channels.JoinUserChannel(ctx, f.self, channelID)
}

func (f *RootFacade) LeaveCurrentChannel(ctx context.Context) error {
	f.root.Channels.LeaveCurrentChannel(ctx, f.self)
	return nil
}

func (f *RootFacade) GetOrCreateChannel(_ context.Context, channelID string) (channel.Channel, error) {
	ch, err := f.root.Channels.GetOrCreateChannel(channelID)
	if err != nil {
		return channel.Channel{}, err
	}
	return *ch, nil
}

func (f *RootFacade) CreatePrivateChannel(context.Context) (channel.Channel, error) {
	info := f.root.Channels.CreatePrivateChannel(f.self)
	return info.Channel, nil
}

func (f *RootFacade) AddContextListener(ctx context.Context, channelID, contextType *string, handler ContextHandler) (Listener, error) {
	listenerUUID, err := f.root.Channels.AddContextListener(ctx, f.self, channelID, contextType)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.contextHandlers[listenerUUID] = handler
	f.mu.Unlock()
	return &uuidListener{uuid: listenerUUID, unsubscribe: func() error {
		f.root.Channels.ContextListenerUnsubscribe(ctx, listenerUUID)
		f.mu.Lock()
		delete(f.contextHandlers, listenerUUID)
		f.mu.Unlock()
		return nil
	}}, nil
}

func (f *RootFacade) Broadcast(ctx context.Context, channelID string, contextPayload json.RawMessage) error {
	return f.root.Channels.Broadcast(ctx, f.self, channelID, contextPayload)
}

func (f *RootFacade) GetCurrentContext(_ context.Context, channelID string, contextType *string) (json.RawMessage, error) {
	return f.root.Channels.GetCurrentContext(f.self, channelID, contextType)
}

func (f *RootFacade) AddIntentListener(_ context.Context, intentName string, acceptedContextTypes []string, handler IntentHandler) (Listener, error) {
	listenerUUID := f.root.Intents.AddIntentListener(f.self, intentName, acceptedContextTypes)
	f.mu.Lock()
	f.intentHandlersByIntent[intentName] = handler
	f.intentListenerToIntent[listenerUUID] = intentName
	f.mu.Unlock()
	return &uuidListener{uuid: listenerUUID, unsubscribe: func() error {
		f.root.Intents.RemoveIntentListener(listenerUUID)
		f.mu.Lock()
		if name, ok := f.intentListenerToIntent[listenerUUID]; ok {
			delete(f.intentHandlersByIntent, name)
			delete(f.intentListenerToIntent, listenerUUID)
		}
		f.mu.Unlock()
		return nil
	}}, nil
}

func (f *RootFacade) RaiseIntent(ctx context.Context, intentName string, contextPayload json.RawMessage, appIdentifier *message.AppID) (IntentResolution, error) {
	resolution, err := f.root.Intents.RaiseIntent(ctx, f.self, intentName, contextPayload, appIdentifier)
	if err != nil {
		return nil, err
	}
	return &rootIntentResolution{intents: f.root.Intents, resolution: resolution, timeout: f.root.RequestTimeout}, nil
}

type rootIntentResolution struct {
	intents    *intent.Engine
	resolution intent.RaiseIntentResolution
	timeout    time.Duration
}

func (r *rootIntentResolution) Source() message.AppID { return r.resolution.Source }
func (r *rootIntentResolution) Intent() string         { return r.resolution.Intent }
func (r *rootIntentResolution) GetResult(ctx context.Context) (json.RawMessage, error) {
	return r.intents.AwaitResult(ctx, r.resolution.RaiseIntentRequestUUID, r.timeout)
}

func (f *RootFacade) FindIntent(_ context.Context, intentName, contextType, resultType string) (message.AppIntent, error) {
	ai := f.root.Directory.GetAppIntent(intentName, contextType, resultType)
	if len(ai.Apps) == 0 {
		return message.AppIntent{}, message.ErrNoAppsFound
	}
	return ai, nil
}

func (f *RootFacade) FindIntentsByContext(_ context.Context, contextType, resultType string) ([]message.AppIntent, error) {
	return f.root.Directory.GetAppIntentsForContext(contextType, resultType), nil
}

func (f *RootFacade) FindInstances(_ context.Context, appID string) ([]message.AppID, error) {
	instances, known := f.root.Directory.GetAppInstances(appID)
	if !known {
		return nil, message.ErrTargetAppUnavailable
	}
	return instances, nil
}

func (f *RootFacade) AddEventListener(_ context.Context, eventType string, handler EventHandler) (Listener, error) {
	listenerUUID := f.root.EventListeners.Add(f.self, eventType)
	f.mu.Lock()
	f.eventHandlersByUUID[listenerUUID] = eventHandlerEntry{eventType: eventType, handler: handler}
	f.mu.Unlock()
	return &uuidListener{uuid: listenerUUID, unsubscribe: func() error {
		f.root.EventListeners.Remove(listenerUUID)
		f.mu.Lock()
		delete(f.eventHandlersByUUID, listenerUUID)
		f.mu.Unlock()
		return nil
	}}, nil
}

func (f *RootFacade) Open(_ context.Context, appID string) (message.AppID, error) {
	instances, known := f.root.Directory.GetAppInstances(appID)
	if !known {
		return message.AppID{}, message.ErrAppNotFound
	}
	if len(instances) > 0 {
		return instances[0], nil
	}
	return f.root.Directory.RegisterNewInstance(appID), nil
}
