package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcGrol/settlebackend/lib/mycache"
	"github.com/MarcGrol/settlebackend/lib/myhttp"
	"github.com/MarcGrol/settlebackend/lib/mylog"
)

type Config struct {
	Limit  int
	Window time.Duration
}

type Result struct {
	Allowed      bool
	Remaining    int
	ResetSeconds int
}

// Limiter is a fixed-window request counter. Bursts are possible at window
// boundaries, which is accepted for this guard.
type Limiter struct {
	cache  mycache.CounterCache
	config Config
	logger mylog.Logger
}

func New(cache mycache.CounterCache, config Config) *Limiter {
	return &Limiter{
		cache:  cache,
		config: config,
		logger: mylog.New("ratelimit"),
	}
}

// Allow atomically counts a request for clientKey within the current window.
// When the cache is unreachable the limiter fails open: payment flows keep
// working and the error is logged for observability.
func (l *Limiter) Allow(c context.Context, clientKey string) Result {
	count, err := l.cache.Increment(c, composeKey(clientKey), l.config.Window)
	if err != nil {
		l.logger.Log(c, clientKey, mylog.SeverityWarn, "Rate-limit cache unreachable, failing open: %s", err)
		if probeErr := l.cache.Ping(c); probeErr != nil {
			l.logger.Log(c, clientKey, mylog.SeverityError, "Rate-limit cache probe failed: %s", probeErr)
		}
		return Result{Allowed: true, Remaining: l.config.Limit}
	}

	if count > int64(l.config.Limit) {
		resetSeconds := int(l.config.Window / time.Second)
		ttl, err := l.cache.TTL(c, composeKey(clientKey))
		if err == nil && ttl > 0 {
			resetSeconds = int(ttl / time.Second)
		}
		return Result{Allowed: false, Remaining: 0, ResetSeconds: resetSeconds}
	}

	return Result{
		Allowed:   true,
		Remaining: l.config.Limit - int(count),
	}
}

// Guard wraps a gateway-facing handler with the limiter, keyed by client ip.
func (l *Limiter) Guard(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := r.Context()

		result := l.Allow(c, myhttp.ClientIP(r))

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		if !result.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", result.ResetSeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"ErrorCode":%d,"Message":"too many requests, retry in %d seconds"}`,
				http.StatusTooManyRequests, result.ResetSeconds)
			return
		}

		handler(w, r)
	}
}

func composeKey(clientKey string) string {
	return "ratelimit-" + clientKey
}
