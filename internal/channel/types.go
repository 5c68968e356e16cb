// Package channel implements the channel state machine (§4.3): user,
// app and private channels, context history, context-listener fan-out,
// and private-channel access control. Grounded on the teacher's Cache
// (per-session replay history, generalized here to per-channel
// ContextHistory) and its broadcast/broadcastExcept fan-out
// (generalized into the currentChannel-sentinel join described in
// spec.md §9).
package channel

import (
	"encoding/json"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// Type is a channel's immutable kind.
type Type string

const (
	TypeUser    Type = "user"
	TypeApp     Type = "app"
	TypePrivate Type = "private"
)

// DisplayMetadata is the optional display hint on a channel, used by
// the fixed recommended user channels (§6).
type DisplayMetadata struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	Glyph string `json:"glyph,omitempty"`
}

// Channel is the identity record for a user/app/private channel.
// Identity is ID; Type never changes after creation.
type Channel struct {
	ID              string           `json:"id"`
	Type            Type             `json:"type"`
	DisplayMetadata *DisplayMetadata `json:"displayMetadata,omitempty"`
}

// historyEntry is one recorded broadcast, with the authoring instance
// tracked alongside it so §4.7's disconnect cascade can drop entries
// authored by a departing instance — the wire Context shape itself
// carries no author field, so provenance has to live in the history
// record, not the context.
type historyEntry struct {
	context json.RawMessage
	author  message.AppID
}

// ContextHistory is the per-channel broadcast history (§3): the most
// recent context overall, and the most recent per distinct type.
// Internally it keeps every entry in broadcast order so that dropping
// an author's entries (§4.7 steps 4/5) can recompute both views from
// what remains.
type ContextHistory struct {
	entries []historyEntry
}

func newContextHistory() *ContextHistory {
	return &ContextHistory{}
}

func (h *ContextHistory) record(ctx json.RawMessage, author message.AppID) {
	h.entries = append(h.entries, historyEntry{context: ctx, author: author})
}

// MostRecent returns the last recorded context overall, or nil.
func (h *ContextHistory) MostRecent() json.RawMessage {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1].context
}

// ByType returns the last recorded context of the given type, or nil.
func (h *ContextHistory) ByType(contextType string) json.RawMessage {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if message.ContextType(h.entries[i].context) == contextType {
			return h.entries[i].context
		}
	}
	return nil
}

// dropAuthor removes every entry authored by instance, the history
// half of §4.7 steps 4/5 ("entries authored by the instance are
// dropped ... mostRecent is recomputed as the last remaining entry").
func (h *ContextHistory) dropAuthor(instance message.AppID) {
	kept := h.entries[:0:0]
	for _, e := range h.entries {
		if !e.author.Equal(instance) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// currentChannelKey is the sentinel ContextListener.ChannelIDKey
// meaning "whichever user channel source is currently joined to"
// (§3). Modeling it as a string constant lets the broadcast fan-out
// computation join two lists instead of walking joined-channel state
// (§9).
const currentChannelKey = "currentChannel"

// ContextListener is a registered context subscription.
type ContextListener struct {
	ChannelIDKey string // a channel id, or currentChannelKey
	ContextType  *string
	ListenerUUID string
	Source       message.AppID
}

func (l *ContextListener) matchesType(ctxType string) bool {
	return l.ContextType == nil || *l.ContextType == ctxType
}

// PrivateChannelEventListener is one of the private-channel lifecycle
// subscriptions (addContextListener/unsubscribe/disconnect) §4.3.
type PrivateChannelEventListener struct {
	EventType    string
	Source       message.AppID
	ListenerUUID string
}

// PrivateChannelInfo is a private channel plus its capability list and
// own history (§3).
type PrivateChannelInfo struct {
	Channel
	AllowedList []message.AppID
	History     *ContextHistory
}

func (p *PrivateChannelInfo) allows(app message.AppID) bool {
	for _, a := range p.AllowedList {
		if a.Equal(app) {
			return true
		}
	}
	return false
}

// recommendedUserChannels is the fixed ordered set of eight
// color-tagged user channels (§6), known at compile time and
// reproduced verbatim across FDC3 implementations.
var recommendedUserChannels = []Channel{
	{ID: "fdc3.channel.1", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Red", Color: "#FF0000", Glyph: "1"}},
	{ID: "fdc3.channel.2", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Orange", Color: "#FF8C00", Glyph: "2"}},
	{ID: "fdc3.channel.3", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Yellow", Color: "#FFFF00", Glyph: "3"}},
	{ID: "fdc3.channel.4", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Green", Color: "#00FF00", Glyph: "4"}},
	{ID: "fdc3.channel.5", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Cyan", Color: "#00FFFF", Glyph: "5"}},
	{ID: "fdc3.channel.6", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Blue", Color: "#0000FF", Glyph: "6"}},
	{ID: "fdc3.channel.7", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Purple", Color: "#8B008B", Glyph: "7"}},
	{ID: "fdc3.channel.8", Type: TypeUser, DisplayMetadata: &DisplayMetadata{Name: "Magenta", Color: "#FF00FF", Glyph: "8"}},
}

// RecommendedUserChannels returns a copy of the fixed recommended set.
func RecommendedUserChannels() []Channel {
	out := make([]Channel, len(recommendedUserChannels))
	copy(out, recommendedUserChannels)
	return out
}

func isRecommendedUserChannel(id string) bool {
	for _, c := range recommendedUserChannels {
		if c.ID == id {
			return true
		}
	}
	return false
}
