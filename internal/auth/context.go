package auth

import "context"

type contextKey struct{}

var principalKey contextKey

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
// The principal travels in the request-scoped context, never in a
// process-wide variable, so concurrent requests cannot observe each other.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the principal established by the admission filter.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// CurrentPrincipal is PrincipalFrom with ErrNotAuthenticated on absence, for
// callers that require an identity.
func CurrentPrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, ErrNotAuthenticated
	}
	return p, nil
}
