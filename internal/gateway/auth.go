package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agent-diva/diva/internal/config"
)

// authMiddleware enforces bearer-token auth on the manager HTTP surface:
// a JWT signed with cfg.JWTSecret, or a static key from cfg.APIKeys. With
// no JWTSecret and no API keys configured, auth is a no-op (local/dev use).
func authMiddleware(cfg config.AuthConfig, log *slog.Logger) func(http.Handler) http.Handler {
	apiKeys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		apiKeys[k.Key] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if cfg.JWTSecret == "" && len(apiKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if _, ok := apiKeys[token]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.JWTSecret != "" && validJWT(token, cfg.JWTSecret) {
				next.ServeHTTP(w, r)
				return
			}
			log.Warn("rejected request with invalid credentials", "path", r.URL.Path)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func validJWT(token, secret string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	return err == nil && parsed.Valid
}
