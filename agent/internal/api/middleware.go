package api

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenAuthConfig controls bearer token authentication.
type TokenAuthConfig struct {
	// Hash is the bcrypt hash of the expected token.
	// When empty, every request is allowed.
	Hash string

	// Logger for authentication events.
	Logger *slog.Logger
}

// TokenAuthMiddleware creates middleware that validates the bearer token.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted as well.
func TokenAuthMiddleware(config TokenAuthConfig) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if config.Hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token == "" {
				config.Logger.Warn("auth failed: missing credentials",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				writeError(w, http.StatusUnauthorized, "unauthorized: missing credentials")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(config.Hash), []byte(token)); err != nil {
				config.Logger.Warn("auth failed: invalid token",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				writeError(w, http.StatusUnauthorized, "unauthorized: invalid token")
				return
			}

			config.Logger.Debug("auth successful", "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

// HashToken returns the bcrypt hash to store in server.token_hash.
func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
