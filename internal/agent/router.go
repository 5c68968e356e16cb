// Package agent implements §4.8's Desktop-Agent facade: one
// DesktopAgent interface exposed identically whether the caller lives
// in the same process as the root (RootFacade, dispatching directly
// into the engines) or behind a transport.Conn (ProxyAgent, dispatching
// through the correlator). Router is the piece that lets the root
// deliver an event or request to either kind of receiver without
// knowing which it's talking to.
package agent

import (
	"context"
	"sync"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// Deliverer receives one envelope addressed to a specific instance —
// a local Go callback for an in-process facade, or a Conn write for a
// transport-backed proxy.
type Deliverer func(ctx context.Context, env *message.Envelope)

// Router implements events.Sink and heartbeat.Pinger by fanning out
// to whichever Deliverer is currently registered for an instance —
// the connected-proxy table of §4.1, generalized to transport-neutral
// callbacks instead of raw sockets.
type Router struct {
	mu        sync.Mutex
	receivers map[string]Deliverer
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{receivers: make(map[string]Deliverer)}
}

// Register binds instanceID to deliver, replacing any prior binding.
func (r *Router) Register(instanceID string, deliver Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[instanceID] = deliver
}

// Unregister removes instanceID's binding, if any.
func (r *Router) Unregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.receivers, instanceID)
}

// Deliver implements events.Sink: it hands env to target's registered
// Deliverer, or silently drops it if target is not (or no longer)
// connected — proxy disconnection is not an error to anyone else (§7).
func (r *Router) Deliver(ctx context.Context, target message.AppID, env *message.Envelope) {
	r.mu.Lock()
	fn, ok := r.receivers[target.InstanceID]
	r.mu.Unlock()
	if ok {
		fn(ctx, env)
	}
}

// SendPing implements heartbeat.Pinger by routing a
// heartbeatPingRequest through the same table (§4.7).
func (r *Router) SendPing(ctx context.Context, target message.AppID, pingUUID string) error {
	env, err := message.NewRequestWithUUID(message.TypeHeartbeatPingRequest, pingUUID, nil, struct{}{})
	if err != nil {
		return err
	}
	r.Deliver(ctx, target, env)
	return nil
}
