// Package eventlistener implements the per-root table of registered
// DesktopAgent event listeners (§4.6): triples of (source,
// listenerUUID, eventType), consulted by the channel engine before
// publishing a ChannelChangedEvent, and by any other component that
// needs to know which listeners on an instance care about a given
// event type. Grounded on the teacher's pendingReverse sync.Map: a
// registration table one component populates and another consults
// before acting, generalized from a single-shot id set to a
// persistent, queryable table.
package eventlistener

import (
	"sync"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// Entry is one registered event listener.
type Entry struct {
	Source       message.AppID
	ListenerUUID string
	EventType    string
}

// Registry holds every registered event listener across all proxies.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry // listenerUUID -> Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers a listener and returns its listenerUUID.
func (r *Registry) Add(source message.AppID, eventType string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := message.NewUUID()
	r.entries[id] = Entry{Source: source, ListenerUUID: id, EventType: eventType}
	return id
}

// Remove unregisters a listener. Idempotent.
func (r *Registry) Remove(listenerUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, listenerUUID)
}

// RemoveBySource removes every listener owned by source, used during
// proxy disconnect cleanup (§4.7 step — event listeners aren't named
// explicitly there, but they're owned state that must not outlive the
// instance).
func (r *Registry) RemoveBySource(source message.AppID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.Source.Equal(source) {
			delete(r.entries, id)
		}
	}
}

// Matching returns every listener owned by source whose eventType
// equals wantEventType or is the "allEvents" wildcard.
func (r *Registry) Matching(source message.AppID, wantEventType string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if !e.Source.Equal(source) {
			continue
		}
		if e.EventType == wantEventType || e.EventType == "allEvents" {
			out = append(out, e)
		}
	}
	return out
}
