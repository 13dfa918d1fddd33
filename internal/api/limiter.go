package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"roadbook/internal/config"
	"roadbook/internal/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client key.
type rateLimiter struct {
	limiters sync.Map
	cfg      config.APIRateLimitConfig
}

func newRateLimiter(cfg config.APIRateLimitConfig) *rateLimiter {
	return &rateLimiter{
		cfg: cfg,
	}
}

func (l *rateLimiter) allow(key string) bool {
	if l.cfg.RPS <= 0 {
		return true
	}
	return l.getLimiter(key).Allow()
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

func (l *rateLimiter) middleware(apiKeyHeader string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
			key = "key:" + apiKey
		}
		if !l.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLimiter throttles access-link lookups through the shared cache so
// token guessing is bounded across instances.
type accessLimiter struct {
	cache  domain.CacheRepository
	limit  int
	window time.Duration
	logger *zerolog.Logger
}

// allow fails open when the cache is unavailable.
func (l *accessLimiter) allow(ctx context.Context, r *http.Request) bool {
	if l == nil || l.cache == nil || l.limit <= 0 {
		return true
	}
	ok, err := l.cache.CheckRateLimit(ctx, "access:"+clientIP(r), l.limit, l.window)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Access rate limit check failed")
		return true
	}
	return ok
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
