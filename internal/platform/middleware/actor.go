package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SystemActor is recorded when a request carries no identifiable user, e.g.
// sync calls from other services.
const SystemActor = "LOCATIONS_INSIDE_PRISON_API"

type contextKeyActor struct{}

// Actor extracts the acting username from the bearer token's user_name claim
// and stores it in context for history and event attribution. Signature
// validation happens upstream at the API gateway, so the token is parsed
// unverified here.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := SystemActor
		if raw := bearerToken(r); raw != "" {
			if username := usernameClaim(raw); username != "" {
				actor = username
			}
		}
		ctx := context.WithValue(r.Context(), contextKeyActor{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor retrieves the acting username from the context.
func GetActor(ctx context.Context) string {
	actor, ok := ctx.Value(contextKeyActor{}).(string)
	if !ok || actor == "" {
		return SystemActor
	}
	return actor
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func usernameClaim(raw string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return ""
	}
	if username, ok := claims["user_name"].(string); ok {
		return username
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
