package api

import (
	"context"
	"net/http"
	"strings"

	"meridian-router.dev/meridian/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// require checks for a valid bearer token.
func (s *Server) require(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// requireAdmin additionally checks for the admin role.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if claims.Role != auth.RoleAdmin {
			WriteError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		WriteError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}
	claims, err := s.auth.ParseToken(token)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid or expired token")
		return nil, false
	}
	return claims, true
}

// bearerToken extracts the token from the Authorization header, or from the
// token query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return after
	}
	return r.URL.Query().Get("token")
}

// requestClaims returns the authenticated user's claims from the context.
func requestClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}
