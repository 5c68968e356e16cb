package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRequest, Classify(&Envelope{Meta: Meta{RequestUUID: "r1"}}))
	assert.Equal(t, KindResponse, Classify(&Envelope{Meta: Meta{RequestUUID: "r1", ResponseUUID: "resp1"}}))
	assert.Equal(t, KindEvent, Classify(&Envelope{Meta: Meta{EventUUID: "e1"}}))
	assert.Equal(t, KindInvalid, Classify(&Envelope{}))
}

func TestNewRequestGeneratesUUIDAndCarriesSource(t *testing.T) {
	src := &AppID{AppID: "app.a", InstanceID: "1"}
	env, reqUUID, err := NewRequest("broadcastRequest", src, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, reqUUID)
	assert.Equal(t, reqUUID, env.Meta.RequestUUID)
	assert.Equal(t, "app.a", env.Meta.Source.AppID)
	assert.Equal(t, KindRequest, Classify(env))
}

func TestNewRequestWithUUIDUsesSuppliedUUID(t *testing.T) {
	env, err := NewRequestWithUUID("heartbeatPingRequest", "fixed-uuid", nil, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "fixed-uuid", env.Meta.RequestUUID)
}

func TestNewResponseCorrelatesToRequestAndGeneratesResponseUUID(t *testing.T) {
	env, err := NewResponse("broadcastResponse", "req-1", nil, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "req-1", env.Meta.RequestUUID)
	assert.NotEmpty(t, env.Meta.ResponseUUID)
	assert.Equal(t, KindResponse, Classify(env))
}

func TestNewErrorResponseCarriesErrorField(t *testing.T) {
	env, err := NewErrorResponse("broadcastResponse", "req-1", nil, "NoChannelFound")
	require.NoError(t, err)
	errStr, ok := ErrorPayload(env)
	assert.True(t, ok)
	assert.Equal(t, "NoChannelFound", errStr)
}

func TestErrorPayloadAbsentWhenNoErrorField(t *testing.T) {
	env, err := NewResponse("broadcastResponse", "req-1", nil, map[string]string{"ok": "true"})
	require.NoError(t, err)
	_, ok := ErrorPayload(env)
	assert.False(t, ok)
}

func TestNewEventGeneratesEventUUIDOnly(t *testing.T) {
	env, err := NewEvent("userChannelChangedEvent", map[string]string{"channel": "fdc3.channel.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.Meta.EventUUID)
	assert.Empty(t, env.Meta.RequestUUID)
	assert.Equal(t, KindEvent, Classify(env))
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	original, _, err := NewRequest("getCurrentChannelRequest", nil, map[string]string{})
	require.NoError(t, err)
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, original.Type, parsed.Type)
	assert.Equal(t, original.Meta.RequestUUID, parsed.Meta.RequestUUID)
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestIsType(t *testing.T) {
	env := &Envelope{Type: "broadcastRequest"}
	assert.True(t, IsType(env, "broadcastRequest"))
	assert.False(t, IsType(env, "openRequest"))
	assert.False(t, IsType(nil, "broadcastRequest"))
}

func TestDecodePayload(t *testing.T) {
	env, err := NewResponse("x", "r", nil, map[string]string{"channel": "fdc3.channel.1"})
	require.NoError(t, err)

	var dst struct {
		Channel string `json:"channel"`
	}
	require.NoError(t, DecodePayload(env, &dst))
	assert.Equal(t, "fdc3.channel.1", dst.Channel)
}

func TestDecodePayloadNilEnvelopeOrEmptyPayloadIsNoop(t *testing.T) {
	var dst map[string]string
	assert.NoError(t, DecodePayload(nil, &dst))
	assert.NoError(t, DecodePayload(&Envelope{}, &dst))
}

func TestIsValidContext(t *testing.T) {
	assert.True(t, IsValidContext(json.RawMessage(`{"type":"fdc3.instrument"}`)))
	assert.True(t, IsValidContext(json.RawMessage(`{"type":""}`)))
	assert.False(t, IsValidContext(json.RawMessage(`{"noType":true}`)))
	assert.False(t, IsValidContext(json.RawMessage(``)))
	assert.False(t, IsValidContext(json.RawMessage(`not json`)))
}

func TestContextType(t *testing.T) {
	assert.Equal(t, "fdc3.instrument", ContextType(json.RawMessage(`{"type":"fdc3.instrument"}`)))
	assert.Equal(t, "", ContextType(json.RawMessage(`{"noType":true}`)))
	assert.Equal(t, "", ContextType(json.RawMessage(`not json`)))
}

func TestAppIDEqualAndFullyQualified(t *testing.T) {
	a := AppID{AppID: "app.a", InstanceID: "1"}
	b := AppID{AppID: "app.a", InstanceID: "1"}
	c := AppID{AppID: "app.a"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.FullyQualified())
	assert.False(t, c.FullyQualified())
}
