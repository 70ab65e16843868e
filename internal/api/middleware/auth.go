package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvloznov/statement-importer/internal/logger"
)

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	// JWTSecret verifies HS256 bearer tokens. Empty disables token auth.
	JWTSecret string
	// AllowHeader trusts X-User-ID when no token is presented.
	AllowHeader bool
	// Public paths skip authentication.
	Public []string
}

// Claims is the token payload. The user id is taken from user_id, or from
// sub when user_id is empty.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

var errNoCredentials = errors.New("authorization token required")

// Auth resolves the caller's user id and stores it in the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := authenticate(r, cfg)
			if err != nil {
				log := logger.FromContext(r.Context())
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Unauthorized request")
				WriteError(w, http.StatusUnauthorized, "Invalid or missing credentials")
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, cfg AuthConfig) (string, error) {
	token := bearerToken(r)
	if token != "" {
		if cfg.JWTSecret == "" {
			return "", fmt.Errorf("token auth is not configured")
		}
		return ParseToken(token, cfg.JWTSecret)
	}
	if cfg.AllowHeader {
		if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
			return id, nil
		}
	}
	return "", errNoCredentials
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("access_token")
}

// ParseToken validates an HS256 token and returns its user id.
func ParseToken(tokenString, secret string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("ParseToken: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("ParseToken: invalid token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", fmt.Errorf("ParseToken: token carries no user id")
	}
	return userID, nil
}

// WithUserID stores the caller's user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// CurrentUserID returns the id set by Auth, or "" outside an authenticated request.
func CurrentUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
