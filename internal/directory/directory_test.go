package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finos-labs/fdc3agent/internal/message"
	"github.com/finos-labs/fdc3agent/internal/resolver"
)

type staticSource struct {
	entries []Entry
	host    string
	err     error
}

func (s staticSource) Load(context.Context) ([]Entry, string, error) {
	return s.entries, s.host, s.err
}

func instrumentViewerEntry(appID, launchURL string) Entry {
	e := Entry{
		AppID:   appID,
		Details: Details{URL: launchURL},
		Interop: &Interop{},
	}
	e.Interop.Intents.ListensFor = map[string]IntentMetadata{
		"ViewInstrument": {Contexts: []string{"fdc3.instrument"}},
	}
	return e
}

func TestLoadSkipsFailingSourceButKeepsOthers(t *testing.T) {
	good := staticSource{entries: []Entry{{AppID: "app.good"}}, host: "good.example"}
	bad := staticSource{err: errors.New("unreachable")}

	d := Load(context.Background(), nil, []Source{good, bad}, resolver.NullResolver{})

	_, ok := d.GetAppMetadata(message.AppID{AppID: "app.good"})
	assert.True(t, ok)
}

func TestLoadDuplicateAppIDWithinSourceLastWins(t *testing.T) {
	src := staticSource{
		host: "example.com",
		entries: []Entry{
			{AppID: "app.dup", Title: "first"},
			{AppID: "app.dup", Title: "second"},
		},
	}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})

	meta, ok := d.GetAppMetadata(message.AppID{AppID: "app.dup"})
	require.True(t, ok)
	assert.Equal(t, "second", meta.Title)
}

func TestRegisterNewInstanceMatchesLaunchURL(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})

	id := d.RegisterNewInstance("https://viewer.example.com")
	assert.Equal(t, "app.viewer", id.AppID)
	assert.NotEmpty(t, id.InstanceID)
}

func TestRegisterNewInstanceUnknownLaunchURLUsesURLAsAppID(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://unknown.example.com")
	assert.Equal(t, "https://unknown.example.com", id.AppID)
}

func TestRemoveInstanceDropsFromAppInstances(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://viewer.example.com")

	instances, known := d.GetAppInstances("app.viewer")
	require.True(t, known)
	assert.Len(t, instances, 1)

	d.RemoveInstance(id.InstanceID)
	instances, known = d.GetAppInstances("app.viewer")
	assert.True(t, known) // still known: catalog entry exists
	assert.Empty(t, instances)
}

func TestGetAppInstancesUnknownAppIDReturnsFalse(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	instances, known := d.GetAppInstances("app.nope")
	assert.False(t, known)
	assert.Nil(t, instances)
}

func TestGetAppMetadataByFullyQualifiedInstance(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://viewer.example.com")

	meta, ok := d.GetAppMetadata(id)
	require.True(t, ok)
	assert.Equal(t, "app.viewer", meta.AppID)
	assert.Equal(t, id.InstanceID, meta.InstanceID)
}

func TestGetAppMetadataUnknownInstanceReturnsFalse(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	_, ok := d.GetAppMetadata(message.AppID{AppID: "app.x", InstanceID: "not-registered"})
	assert.False(t, ok)
}

func TestGetAppIntentUnionsCatalogAndRegisteredInstances(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})

	other := d.RegisterNewInstance("https://dynamic.example.com")
	d.RegisterIntentListener(other, "ViewInstrument", []string{"fdc3.instrument"})

	ai := d.GetAppIntent("ViewInstrument", "fdc3.instrument", "")
	appIDs := map[string]bool{}
	for _, a := range ai.Apps {
		appIDs[a.AppID] = true
	}
	assert.True(t, appIDs["app.viewer"])
	assert.True(t, appIDs["https://dynamic.example.com"])
}

func TestDeregisterIntentListenerRemovesFromGetAppIntent(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://dynamic.example.com")
	d.RegisterIntentListener(id, "ViewInstrument", []string{"fdc3.instrument"})

	ai := d.GetAppIntent("ViewInstrument", "", "")
	assert.Len(t, ai.Apps, 1)

	d.DeregisterIntentListener(id, "ViewInstrument")
	ai = d.GetAppIntent("ViewInstrument", "", "")
	assert.Empty(t, ai.Apps)
}

func TestGetAppIntentsForContextReturnsOnlyMatchingIntents(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})

	intents := d.GetAppIntentsForContext("fdc3.instrument", "")
	require.Len(t, intents, 1)
	assert.Equal(t, "ViewInstrument", intents[0].Intent.Name)

	assert.Empty(t, d.GetAppIntentsForContext("fdc3.contact", ""))
}

func TestResolveAppInstanceForIntentFullyQualifiedReturnsUnchanged(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://viewer.example.com")

	got, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", &id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestResolveAppInstanceForIntentFullyQualifiedGoneInstance(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	gone := message.AppID{AppID: "app.x", InstanceID: "gone"}

	_, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", &gone)
	assert.ErrorIs(t, err, message.ErrTargetInstanceGone)
}

func TestResolveAppInstanceForIntentUnknownAppUnavailable(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	unknown := message.AppID{AppID: "app.nope"}

	_, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", &unknown)
	assert.ErrorIs(t, err, message.ErrTargetAppUnavailable)
}

func TestResolveAppInstanceForIntentKnownAppNoInstancesUnavailable(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	known := message.AppID{AppID: "app.viewer"}

	_, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", &known)
	assert.ErrorIs(t, err, message.ErrTargetInstanceGone)
}

func TestResolveAppInstanceForIntentNoCandidatesReturnsNoAppsFound(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	_, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", nil)
	assert.ErrorIs(t, err, message.ErrNoAppsFound)
}

func TestResolveAppInstanceForIntentSingleCandidateAutoResolves(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	viewer := d.RegisterNewInstance("https://viewer.example.com")
	d.RegisterIntentListener(viewer, "ViewInstrument", []string{"fdc3.instrument"})

	got, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", nil)
	require.NoError(t, err)
	assert.Equal(t, viewer, got)
}

func TestResolveAppInstanceForIntentMultipleCandidatesDelegatesToResolver(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{
		instrumentViewerEntry("app.viewer.a", "https://a.example.com"),
		instrumentViewerEntry("app.viewer.b", "https://b.example.com"),
	}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	a := d.RegisterNewInstance("https://a.example.com")
	d.RegisterIntentListener(a, "ViewInstrument", []string{"fdc3.instrument"})
	b := d.RegisterNewInstance("https://b.example.com")
	d.RegisterIntentListener(b, "ViewInstrument", []string{"fdc3.instrument"})

	got, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(a) || got.Equal(b))
}

func TestResolveAppInstanceForIntentCancellingResolverPropagatesError(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{
		instrumentViewerEntry("app.viewer.a", "https://a.example.com"),
		instrumentViewerEntry("app.viewer.b", "https://b.example.com"),
	}}
	d := Load(context.Background(), nil, []Source{src}, resolver.CancellingResolver{})
	a := d.RegisterNewInstance("https://a.example.com")
	d.RegisterIntentListener(a, "ViewInstrument", []string{"fdc3.instrument"})
	b := d.RegisterNewInstance("https://b.example.com")
	d.RegisterIntentListener(b, "ViewInstrument", []string{"fdc3.instrument"})

	_, err := d.ResolveAppInstanceForIntent(context.Background(), "ViewInstrument", "", nil)
	assert.ErrorIs(t, err, message.ErrUserCancelled)
}

func TestResolveAppInstanceForContextFullyQualifiedReturnsUnchanged(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	id := d.RegisterNewInstance("https://viewer.example.com")

	res, err := d.ResolveAppInstanceForContext(context.Background(), "fdc3.instrument", &id)
	require.NoError(t, err)
	assert.Equal(t, id, res.App)
}

func TestResolveAppInstanceForContextNoMatchingIntentsReturnsNoAppsFound(t *testing.T) {
	d := Load(context.Background(), nil, nil, resolver.NullResolver{})
	_, err := d.ResolveAppInstanceForContext(context.Background(), "fdc3.instrument", nil)
	assert.ErrorIs(t, err, message.ErrNoAppsFound)
}

func TestResolveAppInstanceForContextDelegatesToResolver(t *testing.T) {
	src := staticSource{host: "example.com", entries: []Entry{instrumentViewerEntry("app.viewer", "https://viewer.example.com")}}
	d := Load(context.Background(), nil, []Source{src}, resolver.NullResolver{})
	viewer := d.RegisterNewInstance("https://viewer.example.com")
	d.RegisterIntentListener(viewer, "ViewInstrument", []string{"fdc3.instrument"})

	res, err := d.ResolveAppInstanceForContext(context.Background(), "fdc3.instrument", nil)
	require.NoError(t, err)
	assert.Equal(t, "ViewInstrument", res.Intent)
	assert.Equal(t, viewer, res.App)
}
