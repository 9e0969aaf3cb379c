package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/supercasa/server/internal/errors"
)

type contextKey string

const userIDKey contextKey = "auth.user_id"

// UserID extracts the authenticated user ID from the request context.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID returns a context carrying the user ID. Exported for
// handler tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// BearerToken extracts the bearer token from a request, if any.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

// UserFromRequest resolves the user ID for rate limiting without
// failing the request.
func (s *Signer) UserFromRequest(r *http.Request) string {
	token := BearerToken(r)
	if token == "" {
		return ""
	}
	userID, err := s.Verify(token)
	if err != nil {
		return ""
	}
	return userID
}

// RequireUser rejects requests without a valid bearer token and puts
// the user ID on the context.
func (s *Signer) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "authentication required")
			return
		}
		userID, err := s.Verify(token)
		if err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// RequireAdmin gates back-office routes on the shared admin token,
// compared in constant time.
func RequireAdmin(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "admin access is not configured")
				return
			}
			got := BearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "admin access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
