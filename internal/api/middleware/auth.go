package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mirrorbuddy/reliability/internal/api/models"
	"github.com/mirrorbuddy/reliability/internal/auth"
)

// claimsKey is the context key for validated operator claims.
type claimsKey struct{}

// RequireRole returns a middleware that requires a bearer token carrying at
// least the given role. A nil token service disables authentication, which is
// how the API runs when no signing key is configured.
func RequireRole(tokens *auth.TokenService, required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			token, ok := bearerToken(r)
			if !ok {
				writeProblem(w, r, models.NewUnauthorized(requestID, "missing or malformed Authorization header"))
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				detail := "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					detail = "token has expired"
				}
				writeProblem(w, r, models.NewUnauthorized(requestID, detail))
				return
			}

			if !claims.Role.Allows(required) {
				writeProblem(w, r, models.NewForbidden(requestID, "role "+string(claims.Role)+" cannot perform this operation"))
				return
			}

			setOperator(r.Context(), claims.Subject)
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the validated claims for the request, if any.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeProblem(w http.ResponseWriter, r *http.Request, p *models.Problem) {
	p.Instance = r.URL.Path
	if p.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="reliability"`)
	}
	p.Write(w)
}
