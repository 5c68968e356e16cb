// Package correlator turns asynchronous envelope exchanges into
// promise-shaped call/reply semantics, the same role the teacher's
// Proxy.pending map plays for JSON-RPC ids, generalized to FDC3's
// string requestUuids and widened with a parallel event callback
// registry (§4.2).
package correlator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// pendingRequest is one in-flight call awaiting its matching response.
// It is not removed from the table until a matching response, an error
// response, a timeout, cancellation of the caller's ctx, or DrainAll —
// never at the moment the caller merely stops caring about the result,
// per §9's note on terminal unsubscribe responses.
type pendingRequest struct {
	typeGuard func(*message.Envelope) bool
	resolve   chan result
	timer     *time.Timer
}

type result struct {
	env *message.Envelope
	err error
}

// Correlator owns one side's pending-request table and event-callback
// registry. Each agent.ProxyAgent has exactly one; the root dispatches
// requests in-process (RootFacade, ConnHandler) and uses none.
type Correlator struct {
	log *logrus.Entry

	mu      sync.Mutex
	pending map[string]*pendingRequest

	eventsMu sync.Mutex
	events   map[string]func(*message.Envelope)
}

// New creates an empty Correlator.
func New(log *logrus.Entry) *Correlator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Correlator{
		log:     log,
		pending: make(map[string]*pendingRequest),
		events:  make(map[string]func(*message.Envelope)),
	}
}

// Register inserts a pending entry for requestUUID before the request
// is sent, so that a response racing the send is never missed. The
// returned function blocks until a matching response arrives, ctx is
// cancelled, or timeout elapses (zero means no timeout beyond ctx).
func (c *Correlator) Register(ctx context.Context, requestUUID string, typeGuard func(*message.Envelope) bool, timeout time.Duration) func() (*message.Envelope, error) {
	pr := &pendingRequest{
		typeGuard: typeGuard,
		resolve:   make(chan result, 1),
	}
	c.mu.Lock()
	c.pending[requestUUID] = pr
	c.mu.Unlock()

	if timeout > 0 {
		pr.timer = time.AfterFunc(timeout, func() {
			c.complete(requestUUID, result{err: fmt.Errorf("request %s timed out after %s", requestUUID, timeout)})
		})
	}

	return func() (*message.Envelope, error) {
		select {
		case r := <-pr.resolve:
			return r.env, r.err
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, requestUUID)
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (c *Correlator) complete(requestUUID string, r result) {
	c.mu.Lock()
	pr, ok := c.pending[requestUUID]
	if ok {
		delete(c.pending, requestUUID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.resolve <- r
}

// Dispatch routes an inbound envelope. It is a response iff
// meta.requestUuid names a pending entry AND that entry's type guard
// accepts env.Type; otherwise it is silently ignored (§7: "Non-matching
// requestUuids are silently ignored ... preserves idempotence of stray
// late responses" — invariant 1 and testable property S6). Returns
// true if the envelope was consumed as a response.
func (c *Correlator) Dispatch(env *message.Envelope) bool {
	if message.Classify(env) != message.KindResponse {
		return false
	}
	c.mu.Lock()
	pr, ok := c.pending[env.Meta.RequestUUID]
	c.mu.Unlock()
	if !ok {
		c.log.WithField("requestUuid", env.Meta.RequestUUID).Debug("correlator: response for unknown or already-settled request, ignoring")
		return false
	}
	if pr.typeGuard != nil && !pr.typeGuard(env) {
		c.log.WithFields(logrus.Fields{"requestUuid": env.Meta.RequestUUID, "type": env.Type}).Debug("correlator: response type rejected by guard, ignoring")
		return false
	}

	if errStr, isErr := message.ErrorPayload(env); isErr {
		c.complete(env.Meta.RequestUUID, result{err: message.FDC3Error(errStr)})
	} else {
		c.complete(env.Meta.RequestUUID, result{env: env})
	}
	return true
}

// DrainAll rejects every still-pending request with err, used when the
// underlying transport is torn down (connection closed, proxy
// disconnected) so no caller blocks forever.
func (c *Correlator) DrainAll(err error) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.complete(id, result{err: err})
	}
}

// OnEvent registers a callback for events, keyed by listenerUUID, the
// parallel "event callback registry" from §4.2: independent of the
// pending-request map since events carry eventUuid, not requestUuid.
func (c *Correlator) OnEvent(listenerUUID string, cb func(*message.Envelope)) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.events[listenerUUID] = cb
}

// RemoveEvent unregisters a previously registered callback.
func (c *Correlator) RemoveEvent(listenerUUID string) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	delete(c.events, listenerUUID)
}

// DispatchEvent delivers env to the callback for listenerUUID, if any.
// Each registered callback performs its own filtering, as §4.2 requires.
func (c *Correlator) DispatchEvent(listenerUUID string, env *message.Envelope) {
	c.eventsMu.Lock()
	cb, ok := c.events[listenerUUID]
	c.eventsMu.Unlock()
	if ok {
		cb(env)
	}
}

// EventListenerUUIDs returns every currently-registered listenerUUID,
// in no particular order.
func (c *Correlator) EventListenerUUIDs() []string {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	ids := make([]string, 0, len(c.events))
	for id := range c.events {
		ids = append(ids, id)
	}
	return ids
}
