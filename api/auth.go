package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Header fallbacks used when the server runs without a JWT secret
// (development and demos only).
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// NewTokenAuth builds the HS256 verifier shared by the middleware and
// IssueToken.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil, jwt.WithAcceptableSkew(30*time.Second))
}

// IssueToken signs a token carrying the actor as "sub" and "role".
func IssueToken(ja *jwtauth.JWTAuth, actor generic.Actor, ttl time.Duration) (string, error) {
	claims := map[string]any{
		"sub":  actor.ID,
		"role": string(actor.Role),
	}
	jwtauth.SetExpiryIn(claims, ttl)
	jwtauth.SetIssuedNow(claims)
	_, token, err := ja.Encode(claims)
	return token, err
}

// ActorFromClaims resolves the acting user from a verified token.
func ActorFromClaims(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid token", err)
			return
		}
		sub, _ := claims["sub"].(string)
		roleClaim, _ := claims["role"].(string)
		role, ok := payroll.ParseRole(roleClaim)
		if sub == "" || !ok {
			writeError(w, http.StatusUnauthorized, "Token lacks a subject or a known role", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, generic.Actor{ID: sub, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromHeaders is the unauthenticated development fallback.
func ActorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		role, ok := payroll.ParseRole(r.Header.Get(HeaderActorRole))
		if id == "" || !ok {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderActorID+" or "+HeaderActorRole+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, generic.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the actor stored by one of the middlewares.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(generic.Actor)
	return a, ok
}
