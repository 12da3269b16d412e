package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"dataplane-signaling/backend/internal/config"

	"github.com/coreos/go-oidc"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type principalKey struct{}

// Principal is the authenticated caller of the signaling API.
type Principal struct {
	Subject       string
	ParticipantID string
	Scopes        []string
}

// HasAnyScope reports whether the principal was granted one of scopes.
func (p *Principal) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if slices.Contains(p.Scopes, s) {
			return true
		}
	}
	return false
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal set by RequireAuth.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Auth verifies bearer access tokens issued by the configured OpenID Connect
// provider and resolves the calling participant from a token claim.
type Auth struct {
	apiVerifier      *oidc.IDTokenVerifier
	participantClaim string
	devParticipant   string
	logger           Logger
	authBypass       bool
}

// New creates a new Auth object using values from the application
// configuration. Outside the DEV bypass it discovers the provider at the
// configured issuer.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	shouldBypass := cfg.IsDev() && cfg.DevModeBypass

	a := &Auth{
		participantClaim: cfg.Auth.ParticipantClaim,
		devParticipant:   cfg.Auth.DevParticipant,
		logger:           logger,
		authBypass:       shouldBypass,
	}
	if a.participantClaim == "" {
		a.participantClaim = "participant_id"
	}
	if shouldBypass {
		if a.devParticipant == "" {
			a.devParticipant = "dev-participant"
		}
		return a, nil
	}

	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth configuration is incomplete")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	// Access tokens often carry an API audience rather than a client id.
	oidcConfig := &oidc.Config{SkipClientIDCheck: true}
	if cfg.Auth.Audience != "" {
		oidcConfig = &oidc.Config{ClientID: cfg.Auth.Audience}
	}
	a.apiVerifier = provider.Verifier(oidcConfig)
	return a, nil
}

// NewWithVerifier builds an Auth around an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, participantClaim string, logger Logger) *Auth {
	if participantClaim == "" {
		participantClaim = "participant_id"
	}
	return &Auth{apiVerifier: verifier, participantClaim: participantClaim, logger: logger}
}

// RequireAuth is middleware that ensures a valid bearer token is present and
// stores the resulting Principal in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			p := &Principal{Subject: "dev@localhost", ParticipantID: a.devParticipant, Scopes: AllScopes}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(w, "missing bearer token")
			return
		}
		token, err := a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			a.debug("token verification failed", "error", err)
			unauthorized(w, "invalid token: "+err.Error())
			return
		}

		var claims map[string]any
		if err := token.Claims(&claims); err != nil {
			unauthorized(w, "failed to parse token claims")
			return
		}
		participant, _ := claims[a.participantClaim].(string)
		if participant == "" {
			unauthorized(w, "token has no "+a.participantClaim+" claim")
			return
		}

		p := &Principal{Subject: token.Subject, ParticipantID: participant, Scopes: scopesOf(claims)}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScope is middleware, placed after RequireAuth, that admits only
// principals holding one of scopes.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				unauthorized(w, "no authenticated caller")
				return
			}
			if !p.HasAnyScope(scopes...) {
				http.Error(w, "missing scope "+strings.Join(scopes, " or "), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// scopesOf reads the space separated "scope" claim or the "scp" array some
// providers use instead.
func scopesOf(claims map[string]any) []string {
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	raw, ok := claims["scp"].([]any)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="dataplane"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

func (a *Auth) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
