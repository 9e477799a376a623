package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/radiusdt/revshare/internal/config"
	"go.uber.org/zap"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	ownerContextKey  contextKey = "owner"
	holderContextKey contextKey = "owner_holder"

	// AuthHeaderName carries the master API key.
	AuthHeaderName = "X-API-Key"
	// OwnerHeaderName names the owner for master-key and unauthenticated calls.
	OwnerHeaderName = "X-Owner-ID"
)

// Claims are the bearer token claims. OwnerID scopes every query.
type Claims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// NewOwnerToken signs an HS256 token for owner valid for ttl.
func NewOwnerToken(secret, owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OwnerID: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// OwnerFromContext returns the authenticated owner, or "".
func OwnerFromContext(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerContextKey).(string); ok {
		return owner
	}
	return ""
}

// WithOwner returns ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*ownerHolder); ok {
		h.owner = owner
	}
	return context.WithValue(ctx, ownerContextKey, owner)
}

// ownerHolder lets outer middleware see the owner resolved further in.
type ownerHolder struct {
	owner string
}

func withOwnerHolder(ctx context.Context, h *ownerHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

var errInvalidToken = errors.New("invalid token")

// AuthMiddleware resolves the owner of a request. A bearer token carries it
// in the owner_id claim; the master API key requires the X-Owner-ID header.
// With auth disabled the header is trusted as is.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !a.cfg.Enabled {
			owner := strings.TrimSpace(r.Header.Get(OwnerHeaderName))
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
			return
		}

		if bearer := bearerToken(r); bearer != "" {
			owner, err := a.validateToken(bearer)
			if err != nil {
				a.logger.Warn("invalid bearer token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
			return
		}

		apiKey := r.Header.Get(AuthHeaderName)
		if apiKey == "" {
			unauthorized(w, "missing credentials")
			return
		}
		if !a.validateKey(apiKey) {
			a.logger.Warn("invalid API key attempt",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			unauthorized(w, "invalid API key")
			return
		}
		owner := strings.TrimSpace(r.Header.Get(OwnerHeaderName))
		if owner == "" {
			writeError(w, http.StatusBadRequest, "missing "+OwnerHeaderName+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (a *AuthMiddleware) validateToken(raw string) (string, error) {
	if a.cfg.JWTSecret == "" {
		return "", errors.New("bearer tokens are not accepted")
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OwnerID == "" {
		return "", errInvalidToken
	}
	return claims.OwnerID, nil
}

func (a *AuthMiddleware) shouldSkip(path string) bool {
	for _, skip := range a.cfg.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

// validateKey compares in constant time.
func (a *AuthMiddleware) validateKey(key string) bool {
	if a.cfg.MasterKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.cfg.MasterKey)) == 1
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer, ApiKey`)
	writeError(w, http.StatusUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
