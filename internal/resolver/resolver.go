// Package resolver defines the Resolver-UI collaborator contract
// (§6): the user-facing picker consumed when more than one candidate
// app could handle an intent or context. spec.md §1 explicitly scopes
// its implementation out ("the user-facing resolver UI ... is a
// collaborator that picks an app given a list of candidates"); this
// package is only the interface the intent engine and directory call
// through, plus a deterministic test double.
package resolver

import (
	"context"

	"github.com/finos-labs/fdc3agent/internal/message"
)

// IntentRequest is resolveAppForIntent's input (§6).
type IntentRequest struct {
	Intent        string
	ContextType   string
	AppIdentifier *message.AppID
	AppIntent     message.AppIntent
}

// ContextRequest is resolveAppForContext's input (§6).
type ContextRequest struct {
	ContextType   string
	AppIdentifier *message.AppID
	AppIntents    []message.AppIntent
}

// Resolver is the two-operation contract §6 specifies. Both may
// return message.ErrUserCancelled.
type Resolver interface {
	ResolveAppForIntent(ctx context.Context, req IntentRequest) (message.AppID, error)
	ResolveAppForContext(ctx context.Context, req ContextRequest) (message.ContextResolution, error)
}

// NullResolver deterministically picks the first candidate, a test
// double standing in for a real user-facing picker (out of scope per
// spec.md §1).
type NullResolver struct{}

func (NullResolver) ResolveAppForIntent(_ context.Context, req IntentRequest) (message.AppID, error) {
	if len(req.AppIntent.Apps) == 0 {
		return message.AppID{}, message.ErrNoAppsFound
	}
	a := req.AppIntent.Apps[0]
	return message.AppID{AppID: a.AppID, InstanceID: a.InstanceID}, nil
}

func (NullResolver) ResolveAppForContext(_ context.Context, req ContextRequest) (message.ContextResolution, error) {
	if len(req.AppIntents) == 0 || len(req.AppIntents[0].Apps) == 0 {
		return message.ContextResolution{}, message.ErrNoAppsFound
	}
	ai := req.AppIntents[0]
	a := ai.Apps[0]
	return message.ContextResolution{Intent: ai.Intent.Name, App: message.AppID{AppID: a.AppID, InstanceID: a.InstanceID}}, nil
}

// CancellingResolver always rejects with UserCancelled, used to test
// the cancellation path.
type CancellingResolver struct{}

func (CancellingResolver) ResolveAppForIntent(context.Context, IntentRequest) (message.AppID, error) {
	return message.AppID{}, message.ErrUserCancelled
}

func (CancellingResolver) ResolveAppForContext(context.Context, ContextRequest) (message.ContextResolution, error) {
	return message.ContextResolution{}, message.ErrUserCancelled
}
