package directory

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/resolver"
)

// Directory is the app directory: a static catalog loaded once at
// construction plus a dynamic instance roster mutated as proxies
// connect and register intent listeners (§4.5).
type Directory struct {
	log      *logrus.Entry
	resolver resolver.Resolver

	mu        sync.Mutex
	catalog   map[string]*Entry // qualifiedID -> entry
	instances map[string]*InstanceRecord
}

// Load constructs a Directory from zero or more sources. A source
// that fails to load is logged and skipped; other sources still
// populate the catalog (§7). Duplicate appIds within the same URL's
// response: last wins (§9 Open Question a).
func Load(ctx context.Context, log *logrus.Entry, sources []Source, res resolver.Resolver) *Directory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Directory{
		log:       log,
		resolver:  res,
		catalog:   make(map[string]*Entry),
		instances: make(map[string]*InstanceRecord),
	}

	for _, src := range sources {
		entries, host, err := src.Load(ctx)
		if err != nil {
			log.WithError(err).Warn("directory: failed to load a directory source, skipping")
			continue
		}
		byAppID := make(map[string]Entry, len(entries))
		for _, e := range entries {
			byAppID[e.AppID] = e // last wins within this source
		}
		for appID, e := range byAppID {
			e.AppID = appID
			e.SourceHost = host
			cp := e
			d.catalog[cp.QualifiedID()] = &cp
		}
	}
	return d
}

// RegisterNewInstance allocates a fresh instanceId, matches launchURL
// against details.url in the catalog, and inserts an InstanceRecord
// (§4.5). If no catalog entry's details.url equals launchURL, the
// instance is still registered (a proxy may connect from an app the
// directory doesn't know about), identified by launchURL itself since
// no catalog appId is available.
func (d *Directory) RegisterNewInstance(launchURL string) message.AppID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched *Entry
	appID := launchURL
	for _, e := range d.catalog {
		if e.Details.URL == launchURL {
			matched = e
			appID = e.AppID
			break
		}
	}

	identity := message.AppID{AppID: appID, InstanceID: message.NewUUID()}
	d.instances[identity.InstanceID] = &InstanceRecord{
		AppIdentifier:     identity,
		Entry:             matched,
		registeredIntents: make(map[string][]contextDescriptor),
	}
	return identity
}

// RemoveInstance deletes the InstanceRecord, step 6 of §4.7's
// cleanupDisconnectedProxy.
func (d *Directory) RemoveInstance(instanceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.instances, instanceID)
}

// RegisterIntentListener mutates the instance's registeredIntents[intent]
// as a deduplicated union of context descriptors (§4.5).
func (d *Directory) RegisterIntentListener(identifier message.AppID, intent string, acceptedContextTypes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.instances[identifier.InstanceID]
	if !ok {
		return
	}
	existing := rec.registeredIntents[intent]
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.ContextType] = true
	}
	for _, ct := range acceptedContextTypes {
		if !seen[ct] {
			existing = append(existing, contextDescriptor{ContextType: ct})
			seen[ct] = true
		}
	}
	rec.registeredIntents[intent] = existing
}

// DeregisterIntentListener removes intent from the instance's
// registered-intent table, used by IntentListenerUnsubscribeRequest
// handling (§4.4) and by §4.7 step 6.
func (d *Directory) DeregisterIntentListener(identifier message.AppID, intent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.instances[identifier.InstanceID]
	if !ok {
		return
	}
	delete(rec.registeredIntents, intent)
}

// GetAppInstances returns live instances of appId: nil+false if appId
// is unknown to the directory (no catalog entry and no live instance
// ever registered under it), []message.AppID{}+true if known but idle.
func (d *Directory) GetAppInstances(appID string) ([]message.AppID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getAppInstancesLocked(appID)
}

func (d *Directory) getAppInstancesLocked(appID string) ([]message.AppID, bool) {
	known := false
	for _, e := range d.catalog {
		if e.AppID == appID {
			known = true
			break
		}
	}
	live := []message.AppID{}
	for _, rec := range d.instances {
		if rec.AppIdentifier.AppID == appID {
			known = true
			live = append(live, rec.AppIdentifier)
		}
	}
	if !known {
		return nil, false
	}
	return live, true
}

// GetAppMetadata returns catalog metadata merged with identifier's
// instanceId, or false if unknown.
func (d *Directory) GetAppMetadata(identifier message.AppID) (message.AppMetadata, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if identifier.FullyQualified() {
		rec, ok := d.instances[identifier.InstanceID]
		if !ok {
			return message.AppMetadata{}, false
		}
		return metadataFrom(identifier, rec.Entry), true
	}
	for _, e := range d.catalog {
		if e.AppID == identifier.AppID {
			return metadataFrom(identifier, e), true
		}
	}
	return message.AppMetadata{}, false
}

// GetAppIntent unions catalog-declared and dynamically-registered apps
// for intent, filtered by contextType (if non-empty) and resultType
// (if non-empty) (§4.5). resultType is checked only against catalog
// listensFor declarations; dynamically-registered instances record no
// result type and are not filtered by it.
func (d *Directory) GetAppIntent(intent, contextType, resultType string) message.AppIntent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getAppIntentLocked(intent, contextType, resultType)
}

func (d *Directory) getAppIntentLocked(intent, contextType, resultType string) message.AppIntent {
	result := message.AppIntent{Intent: message.IntentMeta{Name: intent}}
	seen := make(map[string]bool)

	for _, e := range d.catalog {
		if !e.listensFor(intent, contextType, resultType) {
			continue
		}
		id := message.AppID{AppID: e.AppID}
		if seen[id.AppID] {
			continue
		}
		seen[id.AppID] = true
		result.Apps = append(result.Apps, metadataFrom(id, e))
	}

	for _, rec := range d.instances {
		descriptors, ok := rec.registeredIntents[intent]
		if !ok {
			continue
		}
		if contextType != "" && len(descriptors) > 0 && !containsContext(descriptors, contextType) {
			continue
		}
		key := rec.AppIdentifier.AppID + "/" + rec.AppIdentifier.InstanceID
		if seen[key] {
			continue
		}
		seen[key] = true
		result.Apps = append(result.Apps, metadataFrom(rec.AppIdentifier, rec.Entry))
	}
	return result
}

func containsContext(descriptors []contextDescriptor, contextType string) bool {
	for _, d := range descriptors {
		if d.ContextType == contextType {
			return true
		}
	}
	return false
}

// GetAppIntentsForContext returns one AppIntent per intent for which
// at least one app matches context/resultType (§4.5).
func (d *Directory) GetAppIntentsForContext(contextType, resultType string) []message.AppIntent {
	d.mu.Lock()
	defer d.mu.Unlock()

	intents := make(map[string]bool)
	for _, e := range d.catalog {
		if e.Interop == nil {
			continue
		}
		for intent := range e.Interop.Intents.ListensFor {
			intents[intent] = true
		}
	}
	for _, rec := range d.instances {
		for intent := range rec.registeredIntents {
			intents[intent] = true
		}
	}

	var out []message.AppIntent
	for intent := range intents {
		ai := d.getAppIntentLocked(intent, contextType, resultType)
		if len(ai.Apps) > 0 {
			out = append(out, ai)
		}
	}
	return out
}

// ResolveAppInstanceForIntent implements §4.5's resolution ladder: a
// fully-qualified identifier naming a live instance is returned
// unchanged; an appId alone that is unknown is TargetAppUnavailable;
// known appId with unknown instanceId is TargetInstanceUnavailable;
// otherwise the AppIntent's candidates are narrowed to live instances
// (of that appId, when one is given): none is NoAppsFound, exactly one
// is returned directly, and the resolver-UI collaborator is asked to
// choose among several.
func (d *Directory) ResolveAppInstanceForIntent(ctx context.Context, intent, contextType string, appIdentifier *message.AppID) (message.AppID, error) {
	d.mu.Lock()
	if appIdentifier != nil && appIdentifier.FullyQualified() {
		rec, ok := d.instances[appIdentifier.InstanceID]
		d.mu.Unlock()
		if !ok {
			return message.AppID{}, message.ErrTargetInstanceGone
		}
		return rec.AppIdentifier, nil
	}
	var narrowTo *message.AppID
	if appIdentifier != nil && appIdentifier.AppID != "" {
		instances, known := d.getAppInstancesLocked(appIdentifier.AppID)
		if !known {
			d.mu.Unlock()
			return message.AppID{}, message.ErrTargetAppUnavailable
		}
		if len(instances) == 0 {
			d.mu.Unlock()
			return message.AppID{}, message.ErrTargetInstanceGone
		}
		narrowTo = appIdentifier
	}

	ai := d.getAppIntentLocked(intent, contextType, "")
	d.mu.Unlock()
	live := ai.Apps[:0:0]
	for _, a := range ai.Apps {
		if a.InstanceID != "" && (narrowTo == nil || a.AppID == narrowTo.AppID) {
			live = append(live, a)
		}
	}
	ai.Apps = live
	if len(ai.Apps) == 0 {
		return message.AppID{}, message.ErrNoAppsFound
	}
	if len(ai.Apps) == 1 {
		return message.AppID{AppID: ai.Apps[0].AppID, InstanceID: ai.Apps[0].InstanceID}, nil
	}
	return d.callResolverForIntent(ctx, intent, contextType, narrowTo, ai)
}

func (d *Directory) callResolverForIntent(ctx context.Context, intent, contextType string, appIdentifier *message.AppID, ai message.AppIntent) (message.AppID, error) {
	if d.resolver == nil {
		return message.AppID{}, message.ErrNoAppsFound
	}
	return d.resolver.ResolveAppForIntent(ctx, resolver.IntentRequest{
		Intent:        intent,
		ContextType:   contextType,
		AppIdentifier: appIdentifier,
		AppIntent:     ai,
	})
}

// ResolveAppInstanceForContext produces one AppIntent per matching
// intent, narrowed to live instances (intents left with none are
// dropped), and defers the (intent, app) choice to the resolver (§4.5).
func (d *Directory) ResolveAppInstanceForContext(ctx context.Context, contextType string, appIdentifier *message.AppID) (message.ContextResolution, error) {
	if appIdentifier != nil && appIdentifier.FullyQualified() {
		d.mu.Lock()
		rec, ok := d.instances[appIdentifier.InstanceID]
		d.mu.Unlock()
		if !ok {
			return message.ContextResolution{}, message.ErrTargetInstanceGone
		}
		return message.ContextResolution{App: rec.AppIdentifier}, nil
	}

	var intents []message.AppIntent
	for _, ai := range d.GetAppIntentsForContext(contextType, "") {
		live := ai.Apps[:0:0]
		for _, a := range ai.Apps {
			if a.InstanceID != "" {
				live = append(live, a)
			}
		}
		if len(live) > 0 {
			ai.Apps = live
			intents = append(intents, ai)
		}
	}
	if len(intents) == 0 {
		return message.ContextResolution{}, message.ErrNoAppsFound
	}
	if d.resolver == nil {
		return message.ContextResolution{}, message.ErrNoAppsFound
	}
	return d.resolver.ResolveAppForContext(ctx, resolver.ContextRequest{
		ContextType:   contextType,
		AppIdentifier: appIdentifier,
		AppIntents:    intents,
	})
}
