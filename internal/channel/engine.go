package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/events"
	"github.com/finos-labs/fdc3agent/internal/eventlistener"
	"github.com/finos-labs/fdc3agent/internal/message"
)

// Engine holds all channel-engine state for one root: the four
// id-keyed maps from §4.3 (userChannels, appChannels, privateChannels,
// currentUserChannel) plus the listener tables, and enforces every
// operation and invariant in that section.
type Engine struct {
	log            *logrus.Entry
	sink           events.Sink
	eventListeners *eventlistener.Registry

	mu sync.Mutex

	userHistories map[string]*ContextHistory // lazily created on first broadcast
	appChannels   map[string]*Channel
	appHistories  map[string]*ContextHistory
	privateChannels map[string]*PrivateChannelInfo

	currentUserChannel map[string]string // instanceId -> channelId

	contextListeners             map[string][]*ContextListener             // channelIdKey -> listeners, registration order
	listenersByUUID               map[string]*ContextListener               // listenerUUID -> listener, for O(1) unsubscribe
	privateChannelEventListeners   map[string][]*PrivateChannelEventListener // eventType -> listeners
	privateEventListenersByUUID    map[string]*PrivateChannelEventListener
}

// New creates an Engine. sink delivers events to live instances;
// eventListeners is consulted to decide whether a ChannelChangedEvent
// has a matching registered listener before it is published (§4.3).
func New(log *logrus.Entry, sink events.Sink, eventListeners *eventlistener.Registry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		log:                          log,
		sink:                         sink,
		eventListeners:               eventListeners,
		userHistories:                make(map[string]*ContextHistory),
		appChannels:                  make(map[string]*Channel),
		appHistories:                 make(map[string]*ContextHistory),
		privateChannels:              make(map[string]*PrivateChannelInfo),
		currentUserChannel:           make(map[string]string),
		contextListeners:             make(map[string][]*ContextListener),
		listenersByUUID:              make(map[string]*ContextListener),
		privateChannelEventListeners: make(map[string][]*PrivateChannelEventListener),
		privateEventListenersByUUID:  make(map[string]*PrivateChannelEventListener),
	}
}

// GetUserChannels returns the fixed recommended set.
func (e *Engine) GetUserChannels() []Channel {
	return RecommendedUserChannels()
}

// GetCurrentChannel returns source's joined user channel, or nil.
func (e *Engine) GetCurrentChannel(source message.AppID) *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.currentUserChannel[source.InstanceID]
	if !ok {
		return nil
	}
	for _, c := range recommendedUserChannels {
		if c.ID == id {
			cp := c
			return &cp
		}
	}
	return nil
}

// JoinUserChannel validates id against the recommended set and sets
// the mapping, emitting ChannelChangedEvent per the matching-listener
// predicate in §4.3.
func (e *Engine) JoinUserChannel(ctx context.Context, source message.AppID, id string) error {
	if !isRecommendedUserChannel(id) {
		return message.ErrNoChannelFound
	}
	e.mu.Lock()
	e.currentUserChannel[source.InstanceID] = id
	e.mu.Unlock()

	e.publishChannelChanged(ctx, source, &id)
	return nil
}

// LeaveCurrentChannel clears the mapping and emits ChannelChangedEvent
// with newChannelId:null under the same predicate.
func (e *Engine) LeaveCurrentChannel(ctx context.Context, source message.AppID) {
	e.mu.Lock()
	delete(e.currentUserChannel, source.InstanceID)
	e.mu.Unlock()

	e.publishChannelChanged(ctx, source, nil)
}

func (e *Engine) publishChannelChanged(ctx context.Context, source message.AppID, newChannelID *string) {
	if e.eventListeners == nil {
		return
	}
	matches := e.eventListeners.Matching(source, events.EventUserChannelChanged)
	if len(matches) == 0 {
		return
	}
	env, err := events.Build(events.TypeChannelChanged, events.ChannelChangedPayload{NewChannelID: newChannelID})
	if err != nil {
		e.log.WithError(err).Error("channel: failed to build channelChangedEvent")
		return
	}
	e.sink.Deliver(ctx, source, env)
}

// GetOrCreateChannel returns the existing app channel named id, or
// creates one with type "app". A private channel sharing id is an
// AccessDenied error, since app-channel lookup must never silently
// expose a capability-gated channel.
func (e *Engine) GetOrCreateChannel(id string) (*Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.privateChannels[id]; ok {
		return nil, message.ErrAccessDenied
	}
	if c, ok := e.appChannels[id]; ok {
		return c, nil
	}
	c := &Channel{ID: id, Type: TypeApp}
	e.appChannels[id] = c
	return c, nil
}

// CreatePrivateChannel generates a fresh id and grants source sole
// initial membership.
func (e *Engine) CreatePrivateChannel(source message.AppID) *PrivateChannelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := message.NewUUID()
	p := &PrivateChannelInfo{
		Channel:     Channel{ID: id, Type: TypePrivate},
		AllowedList: []message.AppID{source},
		History:     newContextHistory(),
	}
	e.privateChannels[id] = p
	return p
}

// AddToPrivateChannelAllowedList appends app to channel id's
// allowedList, used when an intent result is a private Channel (§4.4
// step 4).
func (e *Engine) AddToPrivateChannelAllowedList(id string, app message.AppID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.privateChannels[id]
	if !ok {
		return message.ErrNoChannelFound
	}
	if !p.allows(app) {
		p.AllowedList = append(p.AllowedList, app)
	}
	return nil
}

// channelLocked resolves id to its Type and, for private channels, its
// PrivateChannelInfo. Caller must hold e.mu.
func (e *Engine) channelLocked(id string) (Type, *PrivateChannelInfo, bool) {
	if p, ok := e.privateChannels[id]; ok {
		return TypePrivate, p, true
	}
	if isRecommendedUserChannel(id) {
		return TypeUser, nil, true
	}
	if _, ok := e.appChannels[id]; ok {
		return TypeApp, nil, true
	}
	return "", nil, false
}

// AddContextListener registers a context listener. channelID nil means
// "currentChannel" (§3's sentinel). Private-channel access is checked
// before registration; on success, a private channel also publishes
// PrivateChannelOnAddContextListenerEvent to every other member whose
// private-event listeners match.
func (e *Engine) AddContextListener(ctx context.Context, source message.AppID, channelID *string, contextType *string) (string, error) {
	e.mu.Lock()

	key := currentChannelKey
	var private *PrivateChannelInfo
	if channelID != nil {
		key = *channelID
		if p, ok := e.privateChannels[*channelID]; ok {
			if !p.allows(source) {
				e.mu.Unlock()
				return "", message.ErrAccessDenied
			}
			private = p
		}
	}

	listener := &ContextListener{
		ChannelIDKey: key,
		ContextType:  contextType,
		ListenerUUID: message.NewUUID(),
		Source:       source,
	}
	e.contextListeners[key] = append(e.contextListeners[key], listener)
	e.listenersByUUID[listener.ListenerUUID] = listener
	e.mu.Unlock()

	if private != nil {
		e.publishPrivateListenerEvent(ctx, events.TypePrivateChannelOnAddListener, private.ID, source, listener.ListenerUUID, events.EventAddContextListener)
	}
	return listener.ListenerUUID, nil
}

// ContextListenerUnsubscribe removes a context listener. If it lived
// on a private channel, PrivateChannelOnUnsubscribeEvent is published
// to matching listeners.
func (e *Engine) ContextListenerUnsubscribe(ctx context.Context, listenerUUID string) {
	e.mu.Lock()
	listener, ok := e.listenersByUUID[listenerUUID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.listenersByUUID, listenerUUID)
	e.removeFromSliceLocked(listener.ChannelIDKey, listenerUUID)
	private, isPrivate := e.privateChannels[listener.ChannelIDKey]
	e.mu.Unlock()

	if isPrivate {
		e.publishPrivateListenerEvent(ctx, events.TypePrivateChannelOnUnsubscribe, private.ID, listener.Source, listenerUUID, events.EventUnsubscribe)
	}
}

func (e *Engine) removeFromSliceLocked(key, listenerUUID string) {
	listeners := e.contextListeners[key]
	for i, l := range listeners {
		if l.ListenerUUID == listenerUUID {
			e.contextListeners[key] = append(listeners[:i], listeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) publishPrivateListenerEvent(ctx context.Context, eventType, channelID string, triggeringApp message.AppID, listenerUUID, privateEventType string) {
	e.mu.Lock()
	recipients := append([]*PrivateChannelEventListener(nil), e.privateChannelEventListeners[privateEventType]...)
	recipients = append(recipients, e.privateChannelEventListeners[events.EventAllEvents]...)
	members := &PrivateChannelInfo{}
	if p, ok := e.privateChannels[channelID]; ok {
		members.AllowedList = append(members.AllowedList, p.AllowedList...)
	}
	e.mu.Unlock()

	if len(recipients) == 0 {
		return
	}
	env, err := events.Build(eventType, events.PrivateChannelListenerEventPayload{
		ChannelID:     channelID,
		TriggeringApp: triggeringApp,
		ListenerUUID:  listenerUUID,
	})
	if err != nil {
		e.log.WithError(err).Error("channel: failed to build private channel listener event")
		return
	}
	for _, r := range recipients {
		if r.Source.Equal(triggeringApp) || !members.allows(r.Source) {
			continue
		}
		e.sink.Deliver(ctx, r.Source, env)
	}
}

// AddPrivateChannelEventListener registers a lifecycle listener for a
// private channel (addContextListener/unsubscribe/disconnect/allEvents).
func (e *Engine) AddPrivateChannelEventListener(source message.AppID, eventType string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := &PrivateChannelEventListener{EventType: eventType, Source: source, ListenerUUID: message.NewUUID()}
	e.privateChannelEventListeners[eventType] = append(e.privateChannelEventListeners[eventType], l)
	e.privateEventListenersByUUID[l.ListenerUUID] = l
	return l.ListenerUUID
}

// RemovePrivateChannelEventListener unregisters a lifecycle listener.
func (e *Engine) RemovePrivateChannelEventListener(listenerUUID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.privateEventListenersByUUID[listenerUUID]
	if !ok {
		return
	}
	delete(e.privateEventListenersByUUID, listenerUUID)
	listeners := e.privateChannelEventListeners[l.EventType]
	for i, x := range listeners {
		if x.ListenerUUID == listenerUUID {
			e.privateChannelEventListeners[l.EventType] = append(listeners[:i], listeners[i+1:]...)
			break
		}
	}
}

// Broadcast delivers ctx to every matching listener and appends it to
// the channel's history (§4.3). Invariant 2 (never routed back to
// source) and invariant 3 (private access control) both hold here.
func (e *Engine) Broadcast(ctx context.Context, source message.AppID, channelID string, rawContext json.RawMessage) error {
	if !message.IsValidContext(rawContext) {
		return message.ErrChannelMalformedCtx
	}

	e.mu.Lock()
	kind, private, exists := e.channelLocked(channelID)
	if !exists {
		e.mu.Unlock()
		return message.ErrNoChannelFound
	}
	if kind == TypePrivate && !private.allows(source) {
		e.mu.Unlock()
		return message.ErrAccessDenied
	}

	ctxType := message.ContextType(rawContext)

	// Recipients: listeners registered directly on channelID, plus
	// "currentChannel" listeners whose source currently sits on
	// channelID — a pure join of two lists per §9, with no source
	// echo (invariant 2) and type filtering.
	var recipients []*ContextListener
	for _, l := range e.contextListeners[channelID] {
		if !l.Source.Equal(source) && l.matchesType(ctxType) {
			recipients = append(recipients, l)
		}
	}
	for _, l := range e.contextListeners[currentChannelKey] {
		if l.Source.Equal(source) || !l.matchesType(ctxType) {
			continue
		}
		if e.currentUserChannel[l.Source.InstanceID] == channelID {
			recipients = append(recipients, l)
		}
	}

	switch kind {
	case TypePrivate:
		private.History.record(rawContext, source)
	case TypeUser:
		h, ok := e.userHistories[channelID]
		if !ok {
			h = newContextHistory()
			e.userHistories[channelID] = h
		}
		h.record(rawContext, source)
	case TypeApp:
		h, ok := e.appHistories[channelID]
		if !ok {
			h = newContextHistory()
			e.appHistories[channelID] = h
		}
		h.record(rawContext, source)
	}
	e.mu.Unlock()

	for _, l := range recipients {
		env, err := events.Build(events.TypeBroadcast, events.BroadcastPayload{
			ChannelID:      channelID,
			Context:        rawContext,
			OriginatingApp: source,
			ListenerUUID:   l.ListenerUUID,
		})
		if err != nil {
			e.log.WithError(err).Error("channel: failed to build broadcastEvent")
			continue
		}
		e.sink.Deliver(ctx, l.Source, env)
	}
	return nil
}

// GetCurrentContext returns the most recent context on channelID,
// optionally filtered by contextType, or nil if absent.
func (e *Engine) GetCurrentContext(source message.AppID, channelID string, contextType *string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind, private, exists := e.channelLocked(channelID)
	if !exists {
		return nil, message.ErrNoChannelFound
	}
	if kind == TypePrivate && !private.allows(source) {
		return nil, message.ErrAccessDenied
	}

	var h *ContextHistory
	switch kind {
	case TypePrivate:
		h = private.History
	case TypeUser:
		h = e.userHistories[channelID]
	case TypeApp:
		h = e.appHistories[channelID]
	}
	if h == nil {
		return nil, nil
	}
	if contextType != nil {
		return h.ByType(*contextType), nil
	}
	return h.MostRecent(), nil
}

// PrivateChannelDisconnect implements the explicit per-app private
// channel teardown (§4.3): every context listener source owns on
// channelID is unsubscribed (re-using the unsubscribe path so private
// unsubscribe events fire), then a single
// PrivateChannelOnDisconnectEvent is published to remaining members.
func (e *Engine) PrivateChannelDisconnect(ctx context.Context, source message.AppID, channelID string) {
	e.mu.Lock()
	var owned []string
	for _, l := range e.contextListeners[channelID] {
		if l.Source.Equal(source) {
			owned = append(owned, l.ListenerUUID)
		}
	}
	private, isPrivate := e.privateChannels[channelID]
	e.mu.Unlock()

	for _, id := range owned {
		e.ContextListenerUnsubscribe(ctx, id)
	}

	if !isPrivate {
		return
	}
	e.publishPrivateListenerEvent(ctx, events.TypePrivateChannelOnDisconnect, private.ID, source, "", events.EventDisconnect)
}

// RemoveInstance cascades every piece of channel-engine state owned by
// instanceID, the channel-engine portion of §4.7's
// cleanupDisconnectedProxy. Steps 1, 2, 3, 4 and 5 of §4.7 live here;
// step 6 (directory/intent) lives in the intent and directory
// packages and is orchestrated by the heartbeat package.
func (e *Engine) RemoveInstance(ctx context.Context, instance message.AppID) {
	e.mu.Lock()
	delete(e.currentUserChannel, instance.InstanceID)

	var ownedListeners []*ContextListener
	for key, listeners := range e.contextListeners {
		kept := listeners[:0:0]
		for _, l := range listeners {
			if l.Source.Equal(instance) {
				ownedListeners = append(ownedListeners, l)
				delete(e.listenersByUUID, l.ListenerUUID)
				continue
			}
			kept = append(kept, l)
		}
		e.contextListeners[key] = kept
	}

	for eventType, listeners := range e.privateChannelEventListeners {
		kept := listeners[:0:0]
		for _, l := range listeners {
			if l.Source.Equal(instance) {
				delete(e.privateEventListenersByUUID, l.ListenerUUID)
				continue
			}
			kept = append(kept, l)
		}
		e.privateChannelEventListeners[eventType] = kept
	}

	for _, p := range e.privateChannels {
		filtered := p.AllowedList[:0:0]
		for _, a := range p.AllowedList {
			if !a.Equal(instance) {
				filtered = append(filtered, a)
			}
		}
		p.AllowedList = filtered
		p.History.dropAuthor(instance)
	}
	for _, h := range e.userHistories {
		h.dropAuthor(instance)
	}
	for _, h := range e.appHistories {
		h.dropAuthor(instance)
	}
	e.mu.Unlock()

	for _, l := range ownedListeners {
		if private, ok := e.privateChannels[l.ChannelIDKey]; ok {
			e.publishPrivateListenerEvent(ctx, events.TypePrivateChannelOnUnsubscribe, private.ID, instance, l.ListenerUUID, events.EventUnsubscribe)
		}
	}
}
