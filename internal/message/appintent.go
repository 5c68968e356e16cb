package message

// AppMetadata is catalog metadata merged with an instance id (§4.5
// getAppMetadata). Lives in this package, not the directory package
// that produces it, so the resolver contract can reference it without
// importing directory (directory, in turn, depends on resolver to
// call the user-mediated picker, so the shared shapes have to sit
// below both).
type AppMetadata struct {
	AppID       string `json:"appId"`
	InstanceID  string `json:"instanceId,omitempty"`
	Title       string `json:"title,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Tooltip     string `json:"tooltip,omitempty"`
}

// AsAppID returns the AppIdentifier this metadata describes.
func (m AppMetadata) AsAppID() AppID {
	return AppID{AppID: m.AppID, InstanceID: m.InstanceID}
}

// IntentMeta is the {name} shape AppIntent.Intent carries.
type IntentMeta struct {
	Name string `json:"name"`
}

// AppIntent pairs an intent with the apps known to support it (§4.5).
type AppIntent struct {
	Intent IntentMeta    `json:"intent"`
	Apps   []AppMetadata `json:"apps"`
}

// ContextResolution is resolveAppForContext's result: the chosen
// (intent, app) pair (§6).
type ContextResolution struct {
	Intent string
	App    AppID
}
