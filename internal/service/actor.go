package service

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
)

// Actor is a verified caller identity.
type Actor struct {
	UserID string
	Admin  bool
}

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.UserID != ""
}

// Authenticator turns a presented credential into an Actor.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Actor, error)
}

// TokenAuthenticator accepts static bearer tokens, each bound to one user.
type TokenAuthenticator struct {
	tokens map[string]string
	admins []string
}

// NewTokenAuthenticator builds an authenticator from token to user id pairs.
// Users listed in admins hold the admin role.
func NewTokenAuthenticator(tokens map[string]string, admins []string) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens, admins: admins}
}

// Authenticate resolves credential, which may carry a "Bearer " prefix.
func (a *TokenAuthenticator) Authenticate(_ context.Context, credential string) (Actor, error) {
	token := strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if token == "" {
		return Actor{}, gameerr.New(gameerr.CodeUnauthenticated, "", "missing credential")
	}
	for known, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return Actor{UserID: user, Admin: slices.Contains(a.admins, user)}, nil
		}
	}
	return Actor{}, gameerr.New(gameerr.CodeUnauthenticated, "", "unknown credential")
}
