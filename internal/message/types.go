package message

// Wire type discriminators for every *Request/*Response the facade
// dispatches (§4.8). Event discriminators live in package events;
// these are the request/response half of the envelope.type vocabulary.
const (
	TypeGetUserChannelsRequest  = "getUserChannelsRequest"
	TypeGetUserChannelsResponse = "getUserChannelsResponse"

	TypeGetCurrentChannelRequest  = "getCurrentChannelRequest"
	TypeGetCurrentChannelResponse = "getCurrentChannelResponse"

	TypeJoinUserChannelRequest  = "joinUserChannelRequest"
	TypeJoinUserChannelResponse = "joinUserChannelResponse"

	TypeLeaveCurrentChannelRequest  = "leaveCurrentChannelRequest"
	TypeLeaveCurrentChannelResponse = "leaveCurrentChannelResponse"

	TypeGetOrCreateChannelRequest  = "getOrCreateChannelRequest"
	TypeGetOrCreateChannelResponse = "getOrCreateChannelResponse"

	TypeCreatePrivateChannelRequest  = "createPrivateChannelRequest"
	TypeCreatePrivateChannelResponse = "createPrivateChannelResponse"

	TypeAddContextListenerRequest  = "addContextListenerRequest"
	TypeAddContextListenerResponse = "addContextListenerResponse"

	TypeContextListenerUnsubscribeRequest  = "contextListenerUnsubscribeRequest"
	TypeContextListenerUnsubscribeResponse = "contextListenerUnsubscribeResponse"

	TypeBroadcastRequest  = "broadcastRequest"
	TypeBroadcastResponse = "broadcastResponse"

	TypeGetCurrentContextRequest  = "getCurrentContextRequest"
	TypeGetCurrentContextResponse = "getCurrentContextResponse"

	TypeAddIntentListenerRequest  = "addIntentListenerRequest"
	TypeAddIntentListenerResponse = "addIntentListenerResponse"

	TypeIntentListenerUnsubscribeRequest  = "intentListenerUnsubscribeRequest"
	TypeIntentListenerUnsubscribeResponse = "intentListenerUnsubscribeResponse"

	TypeRaiseIntentRequest        = "raiseIntentRequest"
	TypeRaiseIntentResponse       = "raiseIntentResponse"
	TypeIntentResultRequest       = "intentResultRequest"
	TypeRaiseIntentResultResponse = "raiseIntentResultResponse"

	TypeFindIntentRequest          = "findIntentRequest"
	TypeFindIntentResponse         = "findIntentResponse"
	TypeFindIntentsByContextRequest  = "findIntentsByContextRequest"
	TypeFindIntentsByContextResponse = "findIntentsByContextResponse"
	TypeFindInstancesRequest       = "findInstancesRequest"
	TypeFindInstancesResponse      = "findInstancesResponse"

	TypeAddEventListenerRequest  = "addEventListenerRequest"
	TypeAddEventListenerResponse = "addEventListenerResponse"
	TypeEventListenerUnsubscribeRequest  = "eventListenerUnsubscribeRequest"
	TypeEventListenerUnsubscribeResponse = "eventListenerUnsubscribeResponse"

	TypeOpenRequest  = "openRequest"
	TypeOpenResponse = "openResponse"

	TypeHeartbeatPingRequest  = "heartbeatPingRequest"
	TypeHeartbeatPongResponse = "heartbeatPongResponse"
)
