package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finos-labs/fdc3agent/internal/message"
)

func TestNullResolverPicksFirstCandidateForIntent(t *testing.T) {
	req := IntentRequest{
		AppIntent: message.AppIntent{
			Apps: []message.AppMetadata{
				{AppID: "app.first", InstanceID: "1"},
				{AppID: "app.second", InstanceID: "2"},
			},
		},
	}
	got, err := (NullResolver{}).ResolveAppForIntent(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, message.AppID{AppID: "app.first", InstanceID: "1"}, got)
}

func TestNullResolverNoAppsFound(t *testing.T) {
	_, err := (NullResolver{}).ResolveAppForIntent(context.Background(), IntentRequest{})
	assert.ErrorIs(t, err, message.ErrNoAppsFound)

	_, err = (NullResolver{}).ResolveAppForContext(context.Background(), ContextRequest{})
	assert.ErrorIs(t, err, message.ErrNoAppsFound)
}

func TestCancellingResolverAlwaysCancels(t *testing.T) {
	_, err := (CancellingResolver{}).ResolveAppForIntent(context.Background(), IntentRequest{})
	assert.ErrorIs(t, err, message.ErrUserCancelled)

	_, err = (CancellingResolver{}).ResolveAppForContext(context.Background(), ContextRequest{})
	assert.ErrorIs(t, err, message.ErrUserCancelled)
}
