// Package directory implements the app directory (§4.5): the static
// catalog loaded from zero or more configured URLs, the dynamic
// instance roster built as proxies connect, and the intent/context
// match queries the intent engine and resolver depend on. Grounded on
// the teacher's Cache, which aggregates from one upstream source and
// serves cached reads; here generalized to N configured URLs, tolerant
// per-URL failure (§7), and a live roster on top.
package directory

import "encoding/json"

// IntentMetadata is interop.intents.listensFor[intent] (§3).
type IntentMetadata struct {
	Contexts   []string `json:"contexts,omitempty"`
	ResultType string   `json:"resultType,omitempty"`
}

// Interop is the optional interop block of an AppDirectoryEntry.
type Interop struct {
	Intents struct {
		ListensFor map[string]IntentMetadata `json:"listensFor,omitempty"`
	} `json:"intents"`
}

// Details carries the app's launch details; only URL is consumed
// (§4.5: registerNewInstance matches launchUrl to details.url).
type Details struct {
	URL string `json:"url,omitempty"`
}

// Entry is an AppDirectoryEntry (§3). Entries are re-keyed from appId
// to "appId@sourceHost" on load to disambiguate across directories;
// SourceHost records the host a given entry was loaded from.
type Entry struct {
	AppID       string            `json:"appId"`
	SourceHost  string            `json:"-"`
	Title       string            `json:"title,omitempty"`
	Version     string            `json:"version,omitempty"`
	Description string            `json:"description,omitempty"`
	Icons       []json.RawMessage `json:"icons,omitempty"`
	Tooltip     string            `json:"tooltip,omitempty"`
	Screenshots []json.RawMessage `json:"screenshots,omitempty"`
	AppType     string            `json:"type,omitempty"`
	Details     Details           `json:"details,omitempty"`
	Interop     *Interop          `json:"interop,omitempty"`
}

// QualifiedID is the re-keyed "appId@sourceHost" identity used within
// this directory's catalog map.
func (e Entry) QualifiedID() string {
	return e.AppID + "@" + e.SourceHost
}

// listensFor reports whether this entry's static catalog declares
// support for intent, and if so, whether contextType/resultType (when
// non-empty) match.
func (e Entry) listensFor(intent, contextType, resultType string) bool {
	if e.Interop == nil {
		return false
	}
	meta, ok := e.Interop.Intents.ListensFor[intent]
	if !ok {
		return false
	}
	if contextType != "" && len(meta.Contexts) > 0 {
		found := false
		for _, c := range meta.Contexts {
			if c == contextType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if resultType != "" && meta.ResultType != "" && meta.ResultType != resultType {
		return false
	}
	return true
}
