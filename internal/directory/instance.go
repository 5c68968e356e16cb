package directory

import "github.com/finos-labs/fdc3agent/internal/message"

// contextDescriptor is one entry in InstanceRecord.registeredIntents[intent]
// (§3: "Context[]" — deduplicated by context type).
type contextDescriptor struct {
	ContextType string `json:"type"`
}

// InstanceRecord is the live roster entry for a connected app (§3).
type InstanceRecord struct {
	AppIdentifier     message.AppID
	Entry             *Entry // nil if the launch URL matched no catalog entry
	registeredIntents map[string][]contextDescriptor
}

func metadataFrom(appID message.AppID, e *Entry) message.AppMetadata {
	m := message.AppMetadata{AppID: appID.AppID, InstanceID: appID.InstanceID}
	if e != nil {
		m.Title = e.Title
		m.Version = e.Version
		m.Description = e.Description
		m.Tooltip = e.Tooltip
	}
	return m
}
