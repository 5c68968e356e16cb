package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finos-labs/fdc3agent/internal/message"
)

const (
	TypeWCP1Hello    = "WCP1Hello"
	TypeWCP1Accepted = "WCP1Accepted"
)

// HelloPayload is WCP1Hello's payload (§4.1 step 2).
type HelloPayload struct {
	ActualURL   string `json:"actualUrl"`
	FDC3Version string `json:"fdc3Version"`
}

// AcceptedPayload is WCP1Accepted's payload: the instance identity the
// root assigned this proxy at first connection.
type AcceptedPayload struct {
	AppIdentifier message.AppID `json:"appIdentifier"`
}

// ErrFailoverWindowUnsupported is returned verbatim per §4.1 step 5
// when a failover collaborator resolves to a window reference instead
// of an agent handle.
var ErrFailoverWindowUnsupported = errors.New("Failover Window result not currently supported")

// Failover is consumed when no WCP1Accepted arrives within the
// configured timeout (§4.1 step 5). Implementations return exactly one
// of: an agent handle (a FailoverHandle; any other type is treated as
// AgentNotFound), IsWindow=true (rejected), or neither (AgentNotFound).
type Failover interface {
	Resolve(ctx context.Context) (agent any, isWindow bool, err error)
}

// FailoverHandle is the concrete shape a Failover.Resolve implementation
// returns as its opaque agent handle: an identity plus the connection
// already established to it, used in place of the timed-out discovery
// attempt.
type FailoverHandle struct {
	AppID message.AppID
	Conn  Conn
}

// DiscoverAgent performs the full proxy-side discovery procedure of
// §4.1 steps 1-6: dial a connection and run the Hello/Accepted
// handshake, and, if no WCP1Accepted arrives within timeout, consult
// failover instead of failing outright (step 5) — a returned agent
// handle is used as the discovery result, a returned window reference
// is rejected with ErrFailoverWindowUnsupported, and anything else
// propagates the original AgentNotFound. Suitable as the start callback
// passed to Discoverer.Discover.
func DiscoverAgent(ctx context.Context, dial func(context.Context) (Conn, error), actualURL, fdc3Version string, timeout time.Duration, failover Failover) (message.AppID, Conn, error) {
	conn, err := dial(ctx)
	if err != nil {
		return message.AppID{}, nil, err
	}
	id, err := ClientHandshake(ctx, conn, actualURL, fdc3Version, timeout)
	if err == nil {
		return id, conn, nil
	}
	if failover == nil || !errors.Is(err, message.ErrAgentNotFound) {
		return message.AppID{}, nil, err
	}

	handle, isWindow, ferr := failover.Resolve(ctx)
	if ferr != nil {
		return message.AppID{}, nil, ferr
	}
	if isWindow {
		return message.AppID{}, nil, ErrFailoverWindowUnsupported
	}
	resolved, ok := handle.(FailoverHandle)
	if !ok {
		return message.AppID{}, nil, fmt.Errorf("%w: failover returned unrecognized handle type %T", message.ErrAgentNotFound, handle)
	}
	return resolved.AppID, resolved.Conn, nil
}

// helloEnvelope builds a WCP1Hello request envelope and returns its
// connectionAttemptUuid.
func helloEnvelope(payload HelloPayload) (*message.Envelope, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	attemptUUID := message.NewUUID()
	return &message.Envelope{
		Type: TypeWCP1Hello,
		Meta: message.Meta{
			Timestamp:   message.Now(),
			RequestUUID: attemptUUID,
		},
		Payload: raw,
	}, attemptUUID, nil
}

// ClientHandshake performs the proxy side of §4.1 steps 2-4 over an
// already-established Conn: send Hello, accept only a WCP1Accepted
// whose connectionAttemptUuid matches (step 3), and return the
// instance identity the root assigned. A non-matching inbound message
// is ignored, not treated as an error, mirroring the correlator's
// silent-ignore rule for stray traffic.
func ClientHandshake(ctx context.Context, conn Conn, actualURL, fdc3Version string, timeout time.Duration) (message.AppID, error) {
	env, attemptUUID, err := helloEnvelope(HelloPayload{ActualURL: actualURL, FDC3Version: fdc3Version})
	if err != nil {
		return message.AppID{}, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return message.AppID{}, err
	}
	if err := conn.Send(ctx, raw); err != nil {
		return message.AppID{}, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-conn.Recv():
			if !ok {
				return message.AppID{}, fmt.Errorf("%w: connection closed before WCP1Accepted", message.ErrAgentNotFound)
			}
			var reply message.Envelope
			if err := json.Unmarshal(line, &reply); err != nil {
				continue
			}
			if reply.Type != TypeWCP1Accepted || reply.Meta.RequestUUID != attemptUUID {
				continue
			}
			var accepted AcceptedPayload
			if err := message.DecodePayload(&reply, &accepted); err != nil {
				continue
			}
			return accepted.AppIdentifier, nil
		case <-deadline.C:
			return message.AppID{}, fmt.Errorf("%w: no WCP1Accepted within timeout", message.ErrAgentNotFound)
		case <-ctx.Done():
			return message.AppID{}, ctx.Err()
		}
	}
}

// AssignInstance allocates an identity for a connecting proxy given
// its WCP1Hello payload; the root is the sole authority for instanceId
// uniqueness (§3: "unique process-wide for its lifetime").
type AssignInstance func(ctx context.Context, hello HelloPayload) (message.AppID, error)

// ServerHandshake performs the root side of §4.1: wait for a
// WCP1Hello, assign an identity via assign, and reply WCP1Accepted
// correlated by the hello's connectionAttemptUuid.
func ServerHandshake(ctx context.Context, conn Conn, assign AssignInstance, timeout time.Duration) (message.AppID, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case line, ok := <-conn.Recv():
		if !ok {
			return message.AppID{}, errors.New("transport: connection closed before WCP1Hello")
		}
		var env message.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return message.AppID{}, fmt.Errorf("transport: malformed WCP1Hello: %w", err)
		}
		if env.Type != TypeWCP1Hello {
			return message.AppID{}, fmt.Errorf("transport: expected WCP1Hello, got %q", env.Type)
		}
		var hello HelloPayload
		if err := message.DecodePayload(&env, &hello); err != nil {
			return message.AppID{}, err
		}
		identity, err := assign(ctx, hello)
		if err != nil {
			return message.AppID{}, err
		}
		accepted := AcceptedPayload{AppIdentifier: identity}
		raw, err := json.Marshal(accepted)
		if err != nil {
			return message.AppID{}, err
		}
		reply := message.Envelope{
			Type: TypeWCP1Accepted,
			Meta: message.Meta{
				Timestamp:   message.Now(),
				RequestUUID: env.Meta.RequestUUID,
			},
			Payload: raw,
		}
		replyLine, err := json.Marshal(reply)
		if err != nil {
			return message.AppID{}, err
		}
		if err := conn.Send(ctx, replyLine); err != nil {
			return message.AppID{}, err
		}
		return identity, nil
	case <-deadline.C:
		return message.AppID{}, errors.New("transport: no WCP1Hello within timeout")
	case <-ctx.Done():
		return message.AppID{}, ctx.Err()
	}
}

// Discoverer caches the promise of the proxy-side discovery procedure
// (§4.1 step 6: "the first call ... caches its promise; subsequent
// calls return the same promise and emit a warning if called with
// fresh parameters"). Reset is provided because §9 requires the cached
// promise to be explicitly reset-able in tests, not ambient.
type Discoverer struct {
	mu      sync.Mutex
	started bool
	result  chan discoverResult
	log     func(msg string)
}

type discoverResult struct {
	appID message.AppID
	conn  Conn
	err   error
}

// NewDiscoverer creates an empty, unstarted Discoverer.
func NewDiscoverer(warn func(msg string)) *Discoverer {
	if warn == nil {
		warn = func(string) {}
	}
	return &Discoverer{log: warn}
}

// Discover returns the cached discovery promise, starting it on first
// call via start. A second call with different parameters still
// returns the first call's result, with a warning logged.
func (d *Discoverer) Discover(ctx context.Context, fresh bool, start func(context.Context) (message.AppID, Conn, error)) (message.AppID, Conn, error) {
	d.mu.Lock()
	if d.started {
		if fresh {
			d.log("getAgent called again with fresh parameters; returning the already-cached connection")
		}
		ch := d.result
		d.mu.Unlock()
		r := <-ch
		ch <- r
		return r.appID, r.conn, r.err
	}
	d.started = true
	d.result = make(chan discoverResult, 1)
	ch := d.result
	d.mu.Unlock()

	appID, conn, err := start(ctx)
	ch <- discoverResult{appID: appID, conn: conn, err: err}
	return appID, conn, err
}

// Reset clears the cached promise so the next Discover call starts
// fresh. Test-only; spec.md §9 calls this out explicitly.
func (d *Discoverer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.result = nil
}
