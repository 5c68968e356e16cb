// Package intent implements the raise/register/result pipeline of
// §4.4. The handler-instance round trip (IntentEvent ->
// IntentResultRequest -> RaiseIntentResultResponse, correlated by
// raiseIntentRequestUuid) mirrors the teacher's pattern of stashing a
// forwarded call's id so a later, asynchronous answer can be routed
// back to the original requester — generalized here from a numeric
// JSON-RPC id to an FDC3 UUID.
package intent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/channel"
	"github.com/finos-labs/fdc3agent/internal/directory"
	"github.com/finos-labs/fdc3agent/internal/events"
	"github.com/finos-labs/fdc3agent/internal/message"
)

// listenerEntry is one addIntentListener registration (§4.4).
type listenerEntry struct {
	source       message.AppID
	intent       string
	listenerUUID string
}

// pendingResult is a raiseIntent call awaiting its
// RaiseIntentResultResponse, keyed by raiseIntentRequestUuid.
type pendingResult struct {
	raiser  message.AppID
	resolve chan resultOutcome
	timer   *time.Timer
}

type resultOutcome struct {
	payload json.RawMessage
	err     error
}

// Engine is the per-root intent coordinator.
type Engine struct {
	log       *logrus.Entry
	directory *directory.Directory
	channels  *channel.Engine
	sink      events.Sink

	mu        sync.Mutex
	listeners map[string]*listenerEntry // listenerUUID -> entry

	pendingMu sync.Mutex
	pending   map[string]*pendingResult // raiseIntentRequestUuid -> pending
}

// New constructs an Engine. dir and channels provide the directory
// and private-channel handoff collaborators; sink delivers IntentEvent
// to the chosen handler instance.
func New(log *logrus.Entry, dir *directory.Directory, channels *channel.Engine, sink events.Sink) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		log:       log,
		directory: dir,
		channels:  channels,
		sink:      sink,
		listeners: make(map[string]*listenerEntry),
		pending:   make(map[string]*pendingResult),
	}
}

// AddIntentListener records a listener and forwards registration to
// the directory so source becomes an active handler of intent for
// acceptedContextTypes (§4.4).
func (e *Engine) AddIntentListener(source message.AppID, intent string, acceptedContextTypes []string) string {
	listenerUUID := message.NewUUID()
	e.mu.Lock()
	e.listeners[listenerUUID] = &listenerEntry{source: source, intent: intent, listenerUUID: listenerUUID}
	e.mu.Unlock()
	e.directory.RegisterIntentListener(source, intent, acceptedContextTypes)
	return listenerUUID
}

// RemoveIntentListener handles IntentListenerUnsubscribeRequest: the
// listener is removed and the instance deregistered from that intent
// in the directory (§4.4).
func (e *Engine) RemoveIntentListener(listenerUUID string) {
	e.mu.Lock()
	entry, ok := e.listeners[listenerUUID]
	delete(e.listeners, listenerUUID)
	e.mu.Unlock()
	if !ok {
		return
	}
	e.directory.DeregisterIntentListener(entry.source, entry.intent)
}

// RemoveInstance removes every intent listener owned by instance and
// deregisters each one's intent from the directory, the intent-engine
// portion of §4.7's cleanupDisconnectedProxy step 6 (deleting the
// InstanceRecord itself is left to directory.RemoveInstance).
func (e *Engine) RemoveInstance(instance message.AppID) {
	e.mu.Lock()
	var owned []*listenerEntry
	for uuid, entry := range e.listeners {
		if entry.source.InstanceID == instance.InstanceID {
			owned = append(owned, entry)
			delete(e.listeners, uuid)
		}
	}
	e.mu.Unlock()
	for _, entry := range owned {
		e.directory.DeregisterIntentListener(entry.source, entry.intent)
	}
}

// RaiseIntentResolution is what raiseIntent hands back to the caller
// immediately (§4.4 step 3): the chosen instance plus a handle the
// caller can await for the eventual result.
type RaiseIntentResolution struct {
	Source                 message.AppID `json:"source"`
	Intent                 string        `json:"intent"`
	RaiseIntentRequestUUID string        `json:"raiseIntentRequestUuid"`
}

// RaiseIntent resolves a target instance via the directory, delivers
// an IntentEvent to it, and returns the chosen instance immediately.
// The result itself arrives later through DeliverResult and is
// retrieved with AwaitResult (§4.4 steps 1-3).
func (e *Engine) RaiseIntent(ctx context.Context, source message.AppID, intentName string, rawContext json.RawMessage, appIdentifier *message.AppID) (RaiseIntentResolution, error) {
	if !message.IsValidContext(rawContext) {
		return RaiseIntentResolution{}, message.ErrResolveMalformedCtx
	}
	contextType := message.ContextType(rawContext)

	target, err := e.directory.ResolveAppInstanceForIntent(ctx, intentName, contextType, appIdentifier)
	if err != nil {
		return RaiseIntentResolution{}, err
	}

	requestUUID := message.NewUUID()
	e.pendingMu.Lock()
	e.pending[requestUUID] = &pendingResult{raiser: source, resolve: make(chan resultOutcome, 1)}
	e.pendingMu.Unlock()

	payload := events.IntentEventPayload{
		Intent:                 intentName,
		Context:                rawContext,
		RaiseIntentRequestUUID: requestUUID,
	}
	env, err := events.Build(events.TypeIntentEvent, payload)
	if err != nil {
		e.abandon(requestUUID)
		return RaiseIntentResolution{}, err
	}
	e.sink.Deliver(ctx, target, env)

	return RaiseIntentResolution{Source: target, Intent: intentName, RaiseIntentRequestUUID: requestUUID}, nil
}

// AwaitResult blocks until the result keyed by raiseIntentRequestUuid
// arrives, ctx is cancelled, or timeout elapses — the body of
// IntentResolution.getResult() (§4.4 step 5).
func (e *Engine) AwaitResult(ctx context.Context, raiseIntentRequestUUID string, timeout time.Duration) (json.RawMessage, error) {
	e.pendingMu.Lock()
	p, ok := e.pending[raiseIntentRequestUUID]
	e.pendingMu.Unlock()
	if !ok {
		return nil, message.ErrTargetInstanceGone
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case out := <-p.resolve:
		e.abandon(raiseIntentRequestUUID)
		return out.payload, out.err
	case <-ctx.Done():
		e.abandon(raiseIntentRequestUUID)
		return nil, ctx.Err()
	case <-timeoutCh:
		e.abandon(raiseIntentRequestUUID)
		return nil, message.ErrResolverTimeout
	}
}

func (e *Engine) abandon(requestUUID string) {
	e.pendingMu.Lock()
	delete(e.pending, requestUUID)
	e.pendingMu.Unlock()
}

// privateChannelProbe detects whether an IntentResult payload is a
// private Channel handle, per §4.4 step 4 ("if the result is a
// private Channel, the raiser's instance is appended to that
// channel's allowedList").
type privateChannelProbe struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DeliverResult handles the handler-side IntentResultRequest: it
// forwards intentResult to the raiser waiting on
// raiseIntentRequestUuid, granting the raiser access to the result
// channel first if the result is a private Channel (§4.4 step 4). The
// raiser's identity is the one captured in RaiseIntent, not anything
// the handler-side caller supplies, since the handler has no authority
// over who raised the intent.
func (e *Engine) DeliverResult(raiseIntentRequestUUID string, intentResult json.RawMessage) error {
	e.pendingMu.Lock()
	p, ok := e.pending[raiseIntentRequestUUID]
	e.pendingMu.Unlock()
	if !ok {
		return nil // §7: non-matching ids are silently ignored
	}

	if len(intentResult) > 0 {
		var probe privateChannelProbe
		if err := json.Unmarshal(intentResult, &probe); err == nil && probe.Type == "private" && probe.ID != "" {
			if err := e.channels.AddToPrivateChannelAllowedList(probe.ID, p.raiser); err != nil {
				e.log.WithError(err).Warn("intent: failed to grant raiser access to result private channel")
			}
		}
	}

	select {
	case p.resolve <- resultOutcome{payload: intentResult}:
	default:
	}
	return nil
}
