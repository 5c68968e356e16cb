package message

// FDC3Error is a typed sentinel error carrying one of the wire error
// strings from spec §6/§7 (e.g. "ChannelError.AccessDenied"). It
// implements error so engine code can return it directly, and
// response construction extracts the wire string via Error().
type FDC3Error string

func (e FDC3Error) Error() string { return string(e) }

// ResolveError.* kinds.
const (
	ErrNoAppsFound          FDC3Error = "ResolveError.NoAppsFound"
	ErrResolverTimeout      FDC3Error = "ResolveError.ResolverTimeout"
	ErrResolveMalformedCtx  FDC3Error = "ResolveError.MalformedContext"
	ErrTargetAppUnavailable FDC3Error = "ResolveError.TargetAppUnavailable"
	ErrTargetInstanceGone   FDC3Error = "ResolveError.TargetInstanceUnavailable"
	ErrUserCancelled        FDC3Error = "ResolveError.UserCancelled"
)

// ChannelError.* kinds.
const (
	ErrNoChannelFound       FDC3Error = "ChannelError.NoChannelFound"
	ErrAccessDenied         FDC3Error = "ChannelError.AccessDenied"
	ErrChannelMalformedCtx  FDC3Error = "ChannelError.MalformedContext"
)

// OpenError.* kinds.
const (
	ErrAppNotFound FDC3Error = "OpenError.AppNotFound"
)

// AgentError.* kinds.
const (
	ErrAgentNotFound FDC3Error = "AgentError.AgentNotFound"
)
