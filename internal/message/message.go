// Package message defines the wire envelope shared by every FDC3
// request, response and event, plus the constructors and type guards
// used to build and classify them.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an envelope by which of the three meta shapes it carries.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindEvent
	KindInvalid
)

// Meta is the meta block common to every envelope. Requests and
// responses carry RequestUUID; responses additionally carry
// ResponseUUID; events carry only EventUUID.
type Meta struct {
	Timestamp    string `json:"timestamp"`
	RequestUUID  string `json:"requestUuid,omitempty"`
	ResponseUUID string `json:"responseUuid,omitempty"`
	EventUUID    string `json:"eventUuid,omitempty"`
	Source       *AppID `json:"source,omitempty"`
}

// AppID is an AppIdentifier: either a catalog reference (AppID only)
// or, once connected, a FullyQualifiedAppIdentifier (AppID+InstanceID).
type AppID struct {
	AppID      string `json:"appId"`
	InstanceID string `json:"instanceId,omitempty"`
}

// FullyQualified reports whether this identifier names a live instance.
func (a AppID) FullyQualified() bool {
	return a.InstanceID != ""
}

// Equal compares two identifiers by value.
func (a AppID) Equal(b AppID) bool {
	return a.AppID == b.AppID && a.InstanceID == b.InstanceID
}

// Envelope is the JSON-RPC-like wire shape every message takes. Payload
// is the type-specific payload, kept as raw JSON so that routing
// logic never needs the concrete payload type.
type Envelope struct {
	Type    string          `json:"type"`
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Classify reports which of request/response/event shape an envelope's
// meta block carries, mirroring the request/method/id discrimination
// the underlying wire protocol uses, generalized to FDC3's
// requestUuid/responseUuid/eventUuid fields.
func Classify(env *Envelope) Kind {
	hasReq := env.Meta.RequestUUID != ""
	hasResp := env.Meta.ResponseUUID != ""
	hasEvent := env.Meta.EventUUID != ""
	switch {
	case hasReq && hasResp:
		return KindResponse
	case hasReq && !hasResp && !hasEvent:
		return KindRequest
	case hasEvent && !hasReq:
		return KindEvent
	default:
		return KindInvalid
	}
}

// NewUUID returns a fresh globally-unique identifier, used for
// instanceId, listenerUUID, requestUuid, eventUuid and
// connectionAttemptUuid alike.
func NewUUID() string {
	return uuid.NewString()
}

// Now returns the current time as an ISO8601-capable wire value.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewRequest builds a request envelope with a fresh requestUuid,
// returning the uuid alongside so callers can register it with the
// correlator before the envelope is sent.
func NewRequest(msgType string, source *AppID, payload any) (*Envelope, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	reqUUID := NewUUID()
	return &Envelope{
		Type: msgType,
		Meta: Meta{
			Timestamp:   Now(),
			RequestUUID: reqUUID,
			Source:      source,
		},
		Payload: raw,
	}, reqUUID, nil
}

// NewRequestWithUUID builds a request envelope using a caller-supplied
// requestUuid instead of a freshly generated one — used by the
// heartbeat monitor, which must choose the ping's uuid itself so it
// can recognize the matching pong (§4.7).
func NewRequestWithUUID(msgType, requestUUID string, source *AppID, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Meta: Meta{
			Timestamp:   Now(),
			RequestUUID: requestUUID,
			Source:      source,
		},
		Payload: raw,
	}, nil
}

// NewResponse builds a response envelope correlated to requestUUID.
func NewResponse(msgType, requestUUID string, source *AppID, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Meta: Meta{
			Timestamp:    Now(),
			RequestUUID:  requestUUID,
			ResponseUUID: NewUUID(),
			Source:       source,
		},
		Payload: raw,
	}, nil
}

// NewErrorResponse builds a response envelope carrying payload.error.
func NewErrorResponse(msgType, requestUUID string, source *AppID, errString string) (*Envelope, error) {
	return NewResponse(msgType, requestUUID, source, map[string]string{"error": errString})
}

// NewEvent builds an event envelope with a fresh eventUuid.
func NewEvent(msgType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Meta: Meta{
			Timestamp: Now(),
			EventUUID: NewUUID(),
		},
		Payload: raw,
	}, nil
}

// ParseEnvelope decodes one wire line into an Envelope.
func ParseEnvelope(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// IsType is a type guard: it reports whether env's discriminator
// equals wantType. Used by the correlator to decide whether an
// inbound response matches what a pending request is waiting for.
func IsType(env *Envelope, wantType string) bool {
	return env != nil && env.Type == wantType
}

// ErrorPayload extracts payload.error from a response envelope, if
// present. A response lacking the field resolves its pending promise
// with payload instead of rejecting.
func ErrorPayload(env *Envelope) (string, bool) {
	if env == nil || len(env.Payload) == 0 {
		return "", false
	}
	var probe struct {
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return "", false
	}
	if probe.Error == "" {
		return "", false
	}
	return probe.Error, true
}

// DecodePayload unmarshals env.Payload into dst.
func DecodePayload(env *Envelope, dst any) error {
	if env == nil || len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, dst)
}

// IsValidContext reports whether v is an object with a string "type"
// field, the only shape validation FDC3 contexts are given (§9:
// "further shape checking is intentionally deferred to consumers").
func IsValidContext(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Type != nil
}

// ContextType extracts the "type" field from a raw context, empty if
// absent or malformed.
func ContextType(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Type
}
