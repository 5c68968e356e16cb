package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/transport"
)

// ConnHandler bridges one accepted transport.Conn to the shared Root's
// engines — the wire analogue of RootFacade, for proxies connected
// out-of-process over a Unix socket or WebSocket (§4.1, §4.8). Unlike
// RootFacade it needs no local handler maps: events reach the proxy
// because the engines already deliver through root.Router, and
// ConnHandler's deliver method is exactly what the router calls.
type ConnHandler struct {
	root *Root
	self message.AppID
	conn transport.Conn
}

// ServeConn performs the WCP handshake over conn, registers the
// resulting instance with root, and starts its read loop. The
// returned ConnHandler is already live; callers don't need to do
// anything further except keep the underlying connection open.
func ServeConn(ctx context.Context, root *Root, conn transport.Conn, handshakeTimeout time.Duration) (*ConnHandler, error) {
	self, err := transport.ServerHandshake(ctx, conn, func(_ context.Context, hello transport.HelloPayload) (message.AppID, error) {
		return root.Directory.RegisterNewInstance(hello.ActualURL), nil
	}, handshakeTimeout)
	if err != nil {
		return nil, err
	}

	h := &ConnHandler{root: root, self: self, conn: conn}
	root.Router.Register(self.InstanceID, h.deliver)
	if root.Monitor != nil {
		root.Monitor.Track(ctx, self)
	}
	go h.readLoop(ctx)
	return h, nil
}

// Close tears down this instance's registrations. The heartbeat
// monitor's own cleanup cascade (§4.7) still runs independently when
// it notices the missed pongs; Close just stops routing to a conn
// that is already gone.
func (h *ConnHandler) Close() {
	h.root.Router.Unregister(h.self.InstanceID)
	if h.root.Monitor != nil {
		h.root.Monitor.Untrack(h.self.InstanceID)
	}
}

func (h *ConnHandler) deliver(ctx context.Context, env *message.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		h.root.Log.WithError(err).Error("connhandler: failed to marshal outbound envelope")
		return
	}
	if err := h.conn.Send(ctx, raw); err != nil {
		h.root.Log.WithError(err).WithField("instanceId", h.self.InstanceID).Debug("connhandler: send failed, instance likely disconnected")
	}
}

func (h *ConnHandler) readLoop(ctx context.Context) {
	for line := range h.conn.Recv() {
		env, err := message.ParseEnvelope(line)
		if err != nil {
			h.root.Log.WithError(err).Debug("connhandler: dropping unparseable line")
			continue
		}
		h.handle(ctx, env)
	}
	h.Close()
}

func (h *ConnHandler) handle(ctx context.Context, env *message.Envelope) {
	if message.Classify(env) == message.KindResponse && env.Type == message.TypeHeartbeatPongResponse {
		if h.root.Monitor != nil {
			h.root.Monitor.RecordPong(h.self.InstanceID, env.Meta.RequestUUID)
		}
		return
	}

	switch env.Type {
	case message.TypeGetUserChannelsRequest:
		h.respond(ctx, env, message.TypeGetUserChannelsResponse, struct {
			Channels []channel.Channel `json:"channels"`
		}{h.root.Channels.GetUserChannels()})

	case message.TypeGetCurrentChannelRequest:
		h.respond(ctx, env, message.TypeGetCurrentChannelResponse, struct {
			Channel *channel.Channel `json:"channel"`
		}{h.root.Channels.GetCurrentChannel(h.self)})

	case message.TypeJoinUserChannelRequest:
		var in struct {
			ChannelID string `json:"channelId"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeJoinUserChannelResponse, err)
			return
		}
		if err := h.root.Channels.JoinUserChannel(ctx, h.self, in.ChannelID); err != nil {
			h.respondError(ctx, env, message.TypeJoinUserChannelResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeJoinUserChannelResponse, struct{}{})

	case message.TypeLeaveCurrentChannelRequest:
		h.root.Channels.LeaveCurrentChannel(ctx, h.self)
		h.respond(ctx, env, message.TypeLeaveCurrentChannelResponse, struct{}{})

	case message.TypeGetOrCreateChannelRequest:
		var in struct {
			ChannelID string `json:"channelId"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeGetOrCreateChannelResponse, err)
			return
		}
		ch, err := h.root.Channels.GetOrCreateChannel(in.ChannelID)
		if err != nil {
			h.respondError(ctx, env, message.TypeGetOrCreateChannelResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeGetOrCreateChannelResponse, ch)

	case message.TypeCreatePrivateChannelRequest:
		info := h.root.Channels.CreatePrivateChannel(h.self)
		h.respond(ctx, env, message.TypeCreatePrivateChannelResponse, info.Channel)

	case message.TypeAddContextListenerRequest:
		var in struct {
			ChannelID   *string `json:"channelId,omitempty"`
			ContextType *string `json:"contextType,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeAddContextListenerResponse, err)
			return
		}
		listenerUUID, err := h.root.Channels.AddContextListener(ctx, h.self, in.ChannelID, in.ContextType)
		if err != nil {
			h.respondError(ctx, env, message.TypeAddContextListenerResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeAddContextListenerResponse, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{listenerUUID})

	case message.TypeContextListenerUnsubscribeRequest:
		var in struct {
			ListenerUUID string `json:"listenerUUID"`
		}
		if err := message.DecodePayload(env, &in); err == nil {
			h.root.Channels.ContextListenerUnsubscribe(ctx, in.ListenerUUID)
		}
		h.respond(ctx, env, message.TypeContextListenerUnsubscribeResponse, struct{}{})

	case message.TypeBroadcastRequest:
		var in struct {
			ChannelID string          `json:"channelId"`
			Context   json.RawMessage `json:"context"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeBroadcastResponse, err)
			return
		}
		if err := h.root.Channels.Broadcast(ctx, h.self, in.ChannelID, in.Context); err != nil {
			h.respondError(ctx, env, message.TypeBroadcastResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeBroadcastResponse, struct{}{})

	case message.TypeGetCurrentContextRequest:
		var in struct {
			ChannelID   string  `json:"channelId"`
			ContextType *string `json:"contextType,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeGetCurrentContextResponse, err)
			return
		}
		ctxPayload, err := h.root.Channels.GetCurrentContext(h.self, in.ChannelID, in.ContextType)
		if err != nil {
			h.respondError(ctx, env, message.TypeGetCurrentContextResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeGetCurrentContextResponse, struct {
			Context json.RawMessage `json:"context"`
		}{ctxPayload})

	case message.TypeAddIntentListenerRequest:
		var in struct {
			Intent               string   `json:"intent"`
			AcceptedContextTypes []string `json:"acceptedContextTypes,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeAddIntentListenerResponse, err)
			return
		}
		listenerUUID := h.root.Intents.AddIntentListener(h.self, in.Intent, in.AcceptedContextTypes)
		h.respond(ctx, env, message.TypeAddIntentListenerResponse, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{listenerUUID})

	case message.TypeIntentListenerUnsubscribeRequest:
		var in struct {
			ListenerUUID string `json:"listenerUUID"`
		}
		if err := message.DecodePayload(env, &in); err == nil {
			h.root.Intents.RemoveIntentListener(in.ListenerUUID)
		}
		h.respond(ctx, env, message.TypeIntentListenerUnsubscribeResponse, struct{}{})

	case message.TypeRaiseIntentRequest:
		h.handleRaiseIntent(ctx, env)

	case message.TypeIntentResultRequest:
		var in struct {
			RaiseIntentRequestUUID string          `json:"raiseIntentRequestUuid"`
			IntentResult           json.RawMessage `json:"intentResult,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			return
		}
		if err := h.root.Intents.DeliverResult(in.RaiseIntentRequestUUID, in.IntentResult); err != nil {
			h.root.Log.WithError(err).Debug("connhandler: failed to deliver intent result")
		}

	case message.TypeFindIntentRequest:
		var in struct {
			Intent      string `json:"intent"`
			ContextType string `json:"contextType,omitempty"`
			ResultType  string `json:"resultType,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeFindIntentResponse, err)
			return
		}
		ai := h.root.Directory.GetAppIntent(in.Intent, in.ContextType, in.ResultType)
		if len(ai.Apps) == 0 {
			h.respondError(ctx, env, message.TypeFindIntentResponse, message.ErrNoAppsFound)
			return
		}
		h.respond(ctx, env, message.TypeFindIntentResponse, ai)

	case message.TypeFindIntentsByContextRequest:
		var in struct {
			ContextType string `json:"contextType"`
			ResultType  string `json:"resultType,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeFindIntentsByContextResponse, err)
			return
		}
		h.respond(ctx, env, message.TypeFindIntentsByContextResponse, struct {
			AppIntents []message.AppIntent `json:"appIntents"`
		}{h.root.Directory.GetAppIntentsForContext(in.ContextType, in.ResultType)})

	case message.TypeFindInstancesRequest:
		var in struct {
			AppID string `json:"appId"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeFindInstancesResponse, err)
			return
		}
		instances, known := h.root.Directory.GetAppInstances(in.AppID)
		if !known {
			h.respondError(ctx, env, message.TypeFindInstancesResponse, message.ErrTargetAppUnavailable)
			return
		}
		h.respond(ctx, env, message.TypeFindInstancesResponse, struct {
			Instances []message.AppID `json:"instances"`
		}{instances})

	case message.TypeAddEventListenerRequest:
		var in struct {
			EventType string `json:"listenerType,omitempty"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeAddEventListenerResponse, err)
			return
		}
		listenerUUID := h.root.EventListeners.Add(h.self, in.EventType)
		h.respond(ctx, env, message.TypeAddEventListenerResponse, struct {
			ListenerUUID string `json:"listenerUUID"`
		}{listenerUUID})

	case message.TypeEventListenerUnsubscribeRequest:
		var in struct {
			ListenerUUID string `json:"listenerUUID"`
		}
		if err := message.DecodePayload(env, &in); err == nil {
			h.root.EventListeners.Remove(in.ListenerUUID)
		}
		h.respond(ctx, env, message.TypeEventListenerUnsubscribeResponse, struct{}{})

	case message.TypeOpenRequest:
		var in struct {
			AppID string `json:"appId"`
		}
		if err := message.DecodePayload(env, &in); err != nil {
			h.respondError(ctx, env, message.TypeOpenResponse, err)
			return
		}
		instances, known := h.root.Directory.GetAppInstances(in.AppID)
		if !known {
			h.respondError(ctx, env, message.TypeOpenResponse, message.ErrAppNotFound)
			return
		}
		var opened message.AppID
		if len(instances) > 0 {
			opened = instances[0]
		} else {
			opened = h.root.Directory.RegisterNewInstance(in.AppID)
		}
		h.respond(ctx, env, message.TypeOpenResponse, opened)

	default:
		h.root.Log.WithField("type", env.Type).Debug("connhandler: unrecognized request type")
	}
}

// handleRaiseIntent answers the initial raiseIntentRequest immediately
// with the intentResolution, then waits for the eventual result in the
// background and relays it as a separate raiseIntentResultResponse
// correlated by raiseIntentRequestUuid (§4.4 steps 3-5).
func (h *ConnHandler) handleRaiseIntent(ctx context.Context, env *message.Envelope) {
	var in struct {
		Intent        string          `json:"intent"`
		Context       json.RawMessage `json:"context"`
		AppIdentifier *message.AppID  `json:"appIdentifier,omitempty"`
	}
	if err := message.DecodePayload(env, &in); err != nil {
		h.respondError(ctx, env, message.TypeRaiseIntentResponse, err)
		return
	}
	resolution, err := h.root.Intents.RaiseIntent(ctx, h.self, in.Intent, in.Context, in.AppIdentifier)
	if err != nil {
		h.respondError(ctx, env, message.TypeRaiseIntentResponse, err)
		return
	}
	h.respond(ctx, env, message.TypeRaiseIntentResponse, struct {
		IntentResolution interface{} `json:"intentResolution"`
	}{resolution})

	go func() {
		result, err := h.root.Intents.AwaitResult(context.Background(), resolution.RaiseIntentRequestUUID, h.root.RequestTimeout)
		if err != nil {
			errEnv, buildErr := message.NewErrorResponse(message.TypeRaiseIntentResultResponse, resolution.RaiseIntentRequestUUID, nil, err.Error())
			if buildErr == nil {
				h.deliver(context.Background(), errEnv)
			}
			return
		}
		resultEnv, buildErr := message.NewResponse(message.TypeRaiseIntentResultResponse, resolution.RaiseIntentRequestUUID, nil, struct {
			IntentResult json.RawMessage `json:"intentResult,omitempty"`
		}{result})
		if buildErr == nil {
			h.deliver(context.Background(), resultEnv)
		}
	}()
}

func (h *ConnHandler) respond(ctx context.Context, req *message.Envelope, respType string, payload any) {
	resp, err := message.NewResponse(respType, req.Meta.RequestUUID, nil, payload)
	if err != nil {
		h.root.Log.WithError(err).Error("connhandler: failed to build response")
		return
	}
	h.deliver(ctx, resp)
}

func (h *ConnHandler) respondError(ctx context.Context, req *message.Envelope, respType string, err error) {
	resp, buildErr := message.NewErrorResponse(respType, req.Meta.RequestUUID, nil, err.Error())
	if buildErr != nil {
		h.root.Log.WithError(buildErr).Error("connhandler: failed to build error response")
		return
	}
	h.deliver(ctx, resp)
}
