package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware implements token bucket rate limiting. Reads and
// writes have separate global buckets; each client additionally gets its
// own bucket at a tenth of the global read rate.
type RateLimitMiddleware struct {
	cfg          config.RateLimitConfig
	logger       *zap.Logger
	metrics      *metrics.Metrics
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	mu             sync.RWMutex
	clientLimiters map[string]*rate.Limiter
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		readLimiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		writeLimiter:   rate.NewLimiter(rate.Limit(cfg.WriteRPS), cfg.WriteBurst),
		clientLimiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		limiter := rl.readLimiter
		if isWrite(r.Method) {
			limiter = rl.writeLimiter
		}
		client := rl.clientKey(r)
		if !limiter.Allow() || !rl.getClientLimiter(client).Allow() {
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("client", client),
			)
			rl.metrics.RecordRateLimitHit(endpointLabel(r.URL.Path))
			rl.tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// endpointLabel keeps the metric label set bounded: ids are dropped.
func endpointLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) >= 2 && parts[0] == "reports" {
		return "/reports/" + parts[1]
	}
	return "/" + parts[0]
}

// clientKey is the owner when known, otherwise the client IP.
func (rl *RateLimitMiddleware) clientKey(r *http.Request) string {
	if owner := OwnerFromContext(r.Context()); owner != "" {
		return "owner:" + owner
	}
	return "ip:" + clientIP(r)
}

func (rl *RateLimitMiddleware) getClientLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clientLimiters[key]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists = rl.clientLimiters[key]; exists {
		return limiter
	}
	burst := rl.cfg.Burst / 10
	if burst < 1 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Limit(rl.cfg.RPS/10), burst)
	rl.clientLimiters[key] = limiter
	return limiter
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (rl *RateLimitMiddleware) tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// CleanupClientLimiters drops every per-client limiter. The server calls it
// periodically.
func (rl *RateLimitMiddleware) CleanupClientLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.clientLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("cleaned up client rate limiters")
}
