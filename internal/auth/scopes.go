package auth

const (
	ScopeSignal = "dataplane:signal"
	ScopeRead   = "dataplane:read"
	// ScopeAdmin guards the operator tools, which act across participants.
	ScopeAdmin = "dataplane:admin"
)

// AllScopes is granted to the dev bypass principal.
var AllScopes = []string{
	ScopeSignal,
	ScopeRead,
	ScopeAdmin,
}
