package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/message"
)

type recordingPinger struct {
	mu     sync.Mutex
	pings  []string
	answer bool // if true, auto-reply to every ping via the monitor under test
	m      *Monitor
	target message.AppID
}

func (p *recordingPinger) SendPing(_ context.Context, target message.AppID, pingUUID string) error {
	p.mu.Lock()
	p.pings = append(p.pings, pingUUID)
	p.mu.Unlock()
	if p.answer {
		p.m.RecordPong(target.InstanceID, pingUUID)
	}
	return nil
}

func (p *recordingPinger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pings)
}

func TestMonitorAnsweredPingsNeverTriggerCleanup(t *testing.T) {
	target := message.AppID{AppID: "app", InstanceID: "i1"}
	var cleaned []message.AppID
	var mu sync.Mutex
	pinger := &recordingPinger{answer: true, target: target}

	m := New(nil, 5*time.Millisecond, 3, pinger, func(_ context.Context, instance message.AppID) {
		mu.Lock()
		cleaned = append(cleaned, instance)
		mu.Unlock()
	})
	pinger.m = m

	m.Track(context.Background(), target)
	time.Sleep(40 * time.Millisecond)
	m.Untrack(target.InstanceID)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, cleaned)
	assert.True(t, pinger.count() >= 3)
}

func TestMonitorMissedPingsTriggerCleanupAfterThreshold(t *testing.T) {
	target := message.AppID{AppID: "app", InstanceID: "i2"}
	cleanedCh := make(chan message.AppID, 1)
	pinger := &recordingPinger{answer: false}

	m := New(nil, 5*time.Millisecond, 2, pinger, func(_ context.Context, instance message.AppID) {
		cleanedCh <- instance
	})

	m.Track(context.Background(), target)

	select {
	case got := <-cleanedCh:
		assert.Equal(t, target, got)
	case <-time.After(time.Second):
		t.Fatal("expected cleanup to fire after missed pongs")
	}
}

func TestRecordPongIgnoresStaleUUID(t *testing.T) {
	target := message.AppID{AppID: "app", InstanceID: "i3"}
	cleanedCh := make(chan message.AppID, 1)
	pinger := &recordingPinger{answer: false}

	m := New(nil, 5*time.Millisecond, 2, pinger, func(_ context.Context, instance message.AppID) {
		cleanedCh <- instance
	})
	m.Track(context.Background(), target)
	m.RecordPong(target.InstanceID, "not-the-real-uuid")

	select {
	case got := <-cleanedCh:
		assert.Equal(t, target, got)
	case <-time.After(time.Second):
		t.Fatal("stale pong should not have prevented cleanup")
	}
	require.True(t, true)
}
