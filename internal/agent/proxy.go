package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/correlator"
	"github.com/finos-labs/fdc3agent/internal/events"
	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/transport"
)

// ProxyAgent implements DesktopAgent for a remote instance: every
// method forwards a request envelope over conn and awaits the
// matching response through the correlator (§4.8, §4.2).
type ProxyAgent struct {
	log        *logrus.Entry
	conn       transport.Conn
	self       message.AppID
	correlator *correlator.Correlator
	timeout    time.Duration

	mu                     sync.Mutex
	intentHandlersByIntent map[string]IntentHandler
	intentListenerToIntent map[string]string
	eventHandlersByUUID    map[string]eventHandlerEntry
}

// NewProxyAgent constructs the facade for a handshake-established
// conn and starts its background read loop.
func NewProxyAgent(log *logrus.Entry, conn transport.Conn, self message.AppID, timeout time.Duration) *ProxyAgent {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &ProxyAgent{
		log:                    log,
		conn:                   conn,
		self:                   self,
		correlator:             correlator.New(log),
		timeout:                timeout,
		intentHandlersByIntent: make(map[string]IntentHandler),
		intentListenerToIntent: make(map[string]string),
		eventHandlersByUUID:    make(map[string]eventHandlerEntry),
	}
	go p.readLoop()
	return p
}

func (p *ProxyAgent) readLoop() {
	for line := range p.conn.Recv() {
		env, err := message.ParseEnvelope(line)
		if err != nil {
			p.log.WithError(err).Debug("proxy: dropping unparseable line")
			continue
		}
		p.dispatch(env)
	}
	p.correlator.DrainAll(message.ErrAgentNotFound)
}

func (p *ProxyAgent) dispatch(env *message.Envelope) {
	switch message.Classify(env) {
	case message.KindRequest:
		if env.Type == message.TypeHeartbeatPingRequest {
			pong, err := message.NewResponse(message.TypeHeartbeatPongResponse, env.Meta.RequestUUID, &p.self, struct{}{})
			if err == nil {
				_ = p.writeAndForget(pong)
			}
		}
	case message.KindResponse:
		p.correlator.Dispatch(env)
	case message.KindEvent:
		p.dispatchEvent(env)
	}
}

func (p *ProxyAgent) dispatchEvent(env *message.Envelope) {
	switch env.Type {
	case events.TypeBroadcast:
		var payload events.BroadcastPayload
		if err := message.DecodePayload(env, &payload); err == nil {
			p.correlator.DispatchEvent(payload.ListenerUUID, env)
		}
	case events.TypeIntentEvent:
		var payload events.IntentEventPayload
		if err := message.DecodePayload(env, &payload); err != nil {
			return
		}
		p.mu.Lock()
		h := p.intentHandlersByIntent[payload.Intent]
		p.mu.Unlock()
		if h == nil {
			return
		}
		result, err := h(payload.Context)
		if err != nil {
			p.log.WithError(err).WithField("intent", payload.Intent).Warn("proxy: intent handler returned an error")
			return
		}
		p.sendIntentResult(payload.RaiseIntentRequestUUID, result)
	case events.TypeChannelChanged:
		p.dispatchByType(events.EventUserChannelChanged, env)
	case events.TypePrivateChannelOnAddListener:
		p.dispatchByType(events.EventAddContextListener, env)
	case events.TypePrivateChannelOnUnsubscribe:
		p.dispatchByType(events.EventUnsubscribe, env)
	case events.TypePrivateChannelOnDisconnect:
		p.dispatchByType(events.EventDisconnect, env)
	}
}

func (p *ProxyAgent) dispatchByType(eventType string, env *message.Envelope) {
	p.mu.Lock()
	var handlers []EventHandler
	for _, entry := range p.eventHandlersByUUID {
		if entry.eventType == eventType || entry.eventType == events.EventAllEvents {
			handlers = append(handlers, entry.handler)
		}
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (p *ProxyAgent) sendIntentResult(raiseIntentRequestUUID string, result json.RawMessage) {
	req, reqUUID, err := message.NewRequest(message.TypeIntentResultRequest, &p.self, struct {
		RaiseIntentRequestUUID string          `json:"raiseIntentRequestUuid"`
		IntentResult           json.RawMessage `json:"intentResult,omitempty"`
	}{RaiseIntentRequestUUID: raiseIntentRequestUUID, IntentResult: result})
	if err != nil {
		p.log.WithError(err).Error("proxy: failed to build intentResultRequest")
		return
	}
	if err := p.writeAndForget(req); err != nil {
		p.log.WithError(err).WithField("requestUuid", reqUUID).Warn("proxy: failed to send intentResultRequest")
	}
}

func (p *ProxyAgent) writeAndForget(env *message.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.conn.Send(context.Background(), raw)
}

// call sends a request of msgType and blocks for its response, the
// shared plumbing every DesktopAgent method below uses.
func (p *ProxyAgent) call(ctx context.Context, msgType string, payload any, responseType string) (*message.Envelope, error) {
	req, reqUUID, err := message.NewRequest(msgType, &p.self, payload)
	if err != nil {
		return nil, err
	}
	await := p.correlator.Register(ctx, reqUUID, func(env *message.Envelope) bool {
		return message.IsType(env, responseType)
	}, p.timeout)

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := p.conn.Send(ctx, raw); err != nil {
		return nil, err
	}
	return await()
}

func (p *ProxyAgent) GetUserChannels(ctx context.Context) ([]channel.Channel, error) {
	resp, err := p.call(ctx, message.TypeGetUserChannelsRequest, struct{}{}, message.TypeGetUserChannelsResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		Channels []channel.Channel `json:"channels"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func (p *ProxyAgent) GetCurrentChannel(ctx context.Context) (*channel.Channel, error) {
	resp, err := p.call(ctx, message.TypeGetCurrentChannelRequest, struct{}{}, message.TypeGetCurrentChannelResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		Channel *channel.Channel `json:"channel"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return out.Channel, nil
}

func (p *ProxyAgent) JoinUserChannel(ctx context.Context, channelID string) error {
	_, err := p.call(ctx, message.TypeJoinUserChannelRequest, struct {
		ChannelID string `json:"channelId"`
	}{channelID}, message.TypeJoinUserChannelResponse)
	return err
}

func (p *ProxyAgent) LeaveCurrentChannel(ctx context.Context) error {
	_, err := p.call(ctx, message.TypeLeaveCurrentChannelRequest, struct{}{}, message.TypeLeaveCurrentChannelResponse)
	return err
}

func (p *ProxyAgent) GetOrCreateChannel(ctx context.Context, channelID string) (channel.Channel, error) {
	resp, err := p.call(ctx, message.TypeGetOrCreateChannelRequest, struct {
		ChannelID string `json:"channelId"`
	}{channelID}, message.TypeGetOrCreateChannelResponse)
	if err != nil {
		return channel.Channel{}, err
	}
	var out channel.Channel
	if err := message.DecodePayload(resp, &out); err != nil {
		return channel.Channel{}, err
	}
	return out, nil
}

func (p *ProxyAgent) CreatePrivateChannel(ctx context.Context) (channel.Channel, error) {
	resp, err := p.call(ctx, message.TypeCreatePrivateChannelRequest, struct{}{}, message.TypeCreatePrivateChannelResponse)
	if err != nil {
		return channel.Channel{}, err
	}
	var out channel.Channel
	if err := message.DecodePayload(resp, &out); err != nil {
		return channel.Channel{}, err
	}
	return out, nil
}

func (p *ProxyAgent) AddContextListener(ctx context.Context, channelID, contextType *string, handler ContextHandler) (Listener, error) {
	resp, err := p.call(ctx, message.TypeAddContextListenerRequest, struct {
		ChannelID   *string `json:"channelId,omitempty"`
		ContextType *string `json:"contextType,omitempty"`
	}{channelID, contextType}, message.TypeAddContextListenerResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	p.correlator.OnEvent(out.ListenerUUID, func(env *message.Envelope) {
		var payload events.BroadcastPayload
		if err := message.DecodePayload(env, &payload); err == nil {
			handler(payload.Context)
		}
	})
	return &uuidListener{uuid: out.ListenerUUID, unsubscribe: func() error {
		_, err := p.call(ctx, message.TypeContextListenerUnsubscribeRequest, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{out.ListenerUUID}, message.TypeContextListenerUnsubscribeResponse)
		p.correlator.RemoveEvent(out.ListenerUUID)
		return err
	}}, nil
}

func (p *ProxyAgent) Broadcast(ctx context.Context, channelID string, contextPayload json.RawMessage) error {
	_, err := p.call(ctx, message.TypeBroadcastRequest, struct {
		ChannelID string          `json:"channelId"`
		Context   json.RawMessage `json:"context"`
	}{channelID, contextPayload}, message.TypeBroadcastResponse)
	return err
}

func (p *ProxyAgent) GetCurrentContext(ctx context.Context, channelID string, contextType *string) (json.RawMessage, error) {
	resp, err := p.call(ctx, message.TypeGetCurrentContextRequest, struct {
		ChannelID   string  `json:"channelId"`
		ContextType *string `json:"contextType,omitempty"`
	}{channelID, contextType}, message.TypeGetCurrentContextResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		Context json.RawMessage `json:"context"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return out.Context, nil
}

func (p *ProxyAgent) AddIntentListener(ctx context.Context, intentName string, acceptedContextTypes []string, handler IntentHandler) (Listener, error) {
	resp, err := p.call(ctx, message.TypeAddIntentListenerRequest, struct {
		Intent               string   `json:"intent"`
		AcceptedContextTypes []string `json:"acceptedContextTypes,omitempty"`
	}{intentName, acceptedContextTypes}, message.TypeAddIntentListenerResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.intentHandlersByIntent[intentName] = handler
	p.intentListenerToIntent[out.ListenerUUID] = intentName
	p.mu.Unlock()
	return &uuidListener{uuid: out.ListenerUUID, unsubscribe: func() error {
		_, err := p.call(ctx, message.TypeIntentListenerUnsubscribeRequest, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{out.ListenerUUID}, message.TypeIntentListenerUnsubscribeResponse)
		p.mu.Lock()
		if name, ok := p.intentListenerToIntent[out.ListenerUUID]; ok {
			delete(p.intentHandlersByIntent, name)
			delete(p.intentListenerToIntent, out.ListenerUUID)
		}
		p.mu.Unlock()
		return err
	}}, nil
}

func (p *ProxyAgent) RaiseIntent(ctx context.Context, intentName string, contextPayload json.RawMessage, appIdentifier *message.AppID) (IntentResolution, error) {
	resp, err := p.call(ctx, message.TypeRaiseIntentRequest, struct {
		Intent        string          `json:"intent"`
		Context       json.RawMessage `json:"context"`
		AppIdentifier *message.AppID  `json:"appIdentifier,omitempty"`
	}{intentName, contextPayload, appIdentifier}, message.TypeRaiseIntentResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		IntentResolution struct {
			Source                 message.AppID `json:"source"`
			Intent                 string        `json:"intent"`
			RaiseIntentRequestUUID string        `json:"raiseIntentRequestUuid"`
		} `json:"intentResolution"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return &proxyIntentResolution{proxy: p, source: out.IntentResolution.Source, intent: out.IntentResolution.Intent, requestUUID: out.IntentResolution.RaiseIntentRequestUUID}, nil
}

type proxyIntentResolution struct {
	proxy       *ProxyAgent
	source      message.AppID
	intent      string
	requestUUID string
}

func (r *proxyIntentResolution) Source() message.AppID { return r.source }
func (r *proxyIntentResolution) Intent() string         { return r.intent }
func (r *proxyIntentResolution) GetResult(ctx context.Context) (json.RawMessage, error) {
	await := r.proxy.correlator.Register(ctx, r.requestUUID, func(env *message.Envelope) bool {
		return message.IsType(env, message.TypeRaiseIntentResultResponse)
	}, r.proxy.timeout)
	env, err := await()
	if err != nil {
		return nil, err
	}
	var out struct {
		IntentResult json.RawMessage `json:"intentResult,omitempty"`
	}
	if err := message.DecodePayload(env, &out); err != nil {
		return nil, err
	}
	return out.IntentResult, nil
}

func (p *ProxyAgent) FindIntent(ctx context.Context, intentName, contextType, resultType string) (message.AppIntent, error) {
	resp, err := p.call(ctx, message.TypeFindIntentRequest, struct {
		Intent      string `json:"intent"`
		ContextType string `json:"contextType,omitempty"`
		ResultType  string `json:"resultType,omitempty"`
	}{intentName, contextType, resultType}, message.TypeFindIntentResponse)
	if err != nil {
		return message.AppIntent{}, err
	}
	var out message.AppIntent
	if err := message.DecodePayload(resp, &out); err != nil {
		return message.AppIntent{}, err
	}
	return out, nil
}

func (p *ProxyAgent) FindIntentsByContext(ctx context.Context, contextType, resultType string) ([]message.AppIntent, error) {
	resp, err := p.call(ctx, message.TypeFindIntentsByContextRequest, struct {
		ContextType string `json:"contextType"`
		ResultType  string `json:"resultType,omitempty"`
	}{contextType, resultType}, message.TypeFindIntentsByContextResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		AppIntents []message.AppIntent `json:"appIntents"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return out.AppIntents, nil
}

func (p *ProxyAgent) FindInstances(ctx context.Context, appID string) ([]message.AppID, error) {
	resp, err := p.call(ctx, message.TypeFindInstancesRequest, struct {
		AppID string `json:"appId"`
	}{appID}, message.TypeFindInstancesResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		Instances []message.AppID `json:"instances"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	return out.Instances, nil
}

func (p *ProxyAgent) AddEventListener(ctx context.Context, eventType string, handler EventHandler) (Listener, error) {
	resp, err := p.call(ctx, message.TypeAddEventListenerRequest, struct {
		EventType string `json:"listenerType,omitempty"`
	}{eventType}, message.TypeAddEventListenerResponse)
	if err != nil {
		return nil, err
	}
	var out struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := message.DecodePayload(resp, &out); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.eventHandlersByUUID[out.ListenerUUID] = eventHandlerEntry{eventType: eventType, handler: handler}
	p.mu.Unlock()
	return &uuidListener{uuid: out.ListenerUUID, unsubscribe: func() error {
		_, err := p.call(ctx, message.TypeEventListenerUnsubscribeRequest, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{out.ListenerUUID}, message.TypeEventListenerUnsubscribeResponse)
		p.mu.Lock()
		delete(p.eventHandlersByUUID, out.ListenerUUID)
		p.mu.Unlock()
		return err
	}}, nil
}

func (p *ProxyAgent) Open(ctx context.Context, appID string) (message.AppID, error) {
	resp, err := p.call(ctx, message.TypeOpenRequest, struct {
		AppID string `json:"appId"`
	}{appID}, message.TypeOpenResponse)
	if err != nil {
		return message.AppID{}, err
	}
	var out message.AppID
	if err := message.DecodePayload(resp, &out); err != nil {
		return message.AppID{}, err
	}
	return out, nil
}
