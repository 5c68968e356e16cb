// Package heartbeat implements §4.7's ping/pong liveness loop and the
// cascading cleanupDisconnectedProxy it triggers. The teacher's
// touchSocket/discoverSockets pair establishes liveness passively, by
// inspecting a socket file's mtime and probing the pid with signal 0;
// this package generalizes that into an active exchange the root
// drives itself, since a root has no filesystem handle to a proxy's
// MessagePort to stat.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// Pinger sends one heartbeatPing carrying pingUUID to target. The
// monitor does not know how target is reached; that is the agent
// facade's job (in-process dispatch for a same-process proxy, a
// transport.Conn write otherwise).
type Pinger interface {
	SendPing(ctx context.Context, target message.AppID, pingUUID string) error
}

// CleanupFunc runs cleanupDisconnectedProxy(instance) (§4.7 steps 1-6).
type CleanupFunc func(ctx context.Context, instance message.AppID)

type instance struct {
	appID       message.AppID
	cancel      context.CancelFunc
	mu          sync.Mutex
	awaitingUUID string
	misses      int
}

// Monitor pings every tracked instance on a fixed interval and calls
// cleanup after missThreshold consecutive missed pongs.
type Monitor struct {
	log           *logrus.Entry
	interval      time.Duration
	missThreshold int
	pinger        Pinger
	cleanup       CleanupFunc

	mu      sync.Mutex
	tracked map[string]*instance // instanceId -> instance
}

// New constructs a Monitor. interval is the fixed ping cadence;
// missThreshold is the number of consecutive missed pongs that
// triggers cleanup (both configuration, per §4.7).
func New(log *logrus.Entry, interval time.Duration, missThreshold int, pinger Pinger, cleanup CleanupFunc) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if missThreshold < 1 {
		missThreshold = 1
	}
	return &Monitor{
		log:           log,
		interval:      interval,
		missThreshold: missThreshold,
		pinger:        pinger,
		cleanup:       cleanup,
		tracked:       make(map[string]*instance),
	}
}

// Track begins the ping loop for appID. Safe to call once per
// connected instance; a second call for the same instanceId replaces
// the first.
func (m *Monitor) Track(ctx context.Context, appID message.AppID) {
	m.Untrack(appID.InstanceID)

	loopCtx, cancel := context.WithCancel(ctx)
	inst := &instance{appID: appID, cancel: cancel}

	m.mu.Lock()
	m.tracked[appID.InstanceID] = inst
	m.mu.Unlock()

	go m.loop(loopCtx, inst)
}

// Untrack stops pinging appID's instance without running cleanup —
// used when the instance is already known gone (e.g. an explicit
// unsubscribe/disconnect handled elsewhere).
func (m *Monitor) Untrack(instanceID string) {
	m.mu.Lock()
	inst, ok := m.tracked[instanceID]
	delete(m.tracked, instanceID)
	m.mu.Unlock()
	if ok {
		inst.cancel()
	}
}

// RecordPong resets the miss counter for instanceID if pingUUID
// matches the outstanding ping; a stale or non-matching pong is
// silently ignored (§7: non-matching ids are silently ignored).
func (m *Monitor) RecordPong(instanceID, pingUUID string) {
	m.mu.Lock()
	inst, ok := m.tracked[instanceID]
	m.mu.Unlock()
	if !ok {
		return
	}
	inst.mu.Lock()
	if inst.awaitingUUID == pingUUID {
		inst.awaitingUUID = ""
		inst.misses = 0
	}
	inst.mu.Unlock()
}

func (m *Monitor) loop(ctx context.Context, inst *instance) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tick(ctx, inst) {
				return
			}
		}
	}
}

// tick sends one ping, checks whether the previous ping went
// unanswered, and reports whether the instance was just cleaned up.
func (m *Monitor) tick(ctx context.Context, inst *instance) bool {
	inst.mu.Lock()
	missedPrevious := inst.awaitingUUID != ""
	if missedPrevious {
		inst.misses++
	}
	exceeded := inst.misses >= m.missThreshold
	var pingUUID string
	if !exceeded {
		pingUUID = message.NewUUID()
		inst.awaitingUUID = pingUUID
	}
	inst.mu.Unlock()

	if exceeded {
		m.mu.Lock()
		delete(m.tracked, inst.appID.InstanceID)
		m.mu.Unlock()
		m.log.WithField("instance", inst.appID.InstanceID).Warn("heartbeat: missed threshold exceeded, cleaning up proxy")
		if m.cleanup != nil {
			m.cleanup(ctx, inst.appID)
		}
		return true
	}

	if err := m.pinger.SendPing(ctx, inst.appID, pingUUID); err != nil {
		m.log.WithError(err).WithField("instance", inst.appID.InstanceID).Debug("heartbeat: ping send failed")
	}
	return false
}
