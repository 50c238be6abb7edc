package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval  = 5 * time.Minute
	staleClientAfter = 10 * time.Minute
	secondsPerMinute = 60.0

	apiKeyHeader     = "X-Api-Key" //nolint:gosec // header name, not a credential
	xForwardedForHdr = "X-Forwarded-For"
)

// RateLimiter applies a per-client token bucket to the API.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client with
// the given burst.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(requestsPerMinute) / secondsPerMinute),
		burst:   burstSize,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background cleanup. Calling it twice is safe.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// reserve takes one token for the client. When the bucket is empty it returns
// false and the whole seconds until a token is available.
func (rl *RateLimiter) reserve(clientID string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, ok := rl.clients[clientID]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientID] = client
	}
	client.lastAccess = now

	if client.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := client.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, int(delay.Seconds()) + 1
}

// Allow reports whether a request from clientID may proceed.
func (rl *RateLimiter) Allow(clientID string) bool {
	ok, _ := rl.reserve(clientID)
	return ok
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale(time.Now().Add(-staleClientAfter))
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictStale(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, client := range rl.clients {
		if client.lastAccess.Before(cutoff) {
			delete(rl.clients, id)
		}
	}
}

// ClientID identifies the caller: API key first, then the first forwarded
// address, then the remote address.
func ClientID(r *http.Request) string {
	if apiKey := r.Header.Get(apiKeyHeader); apiKey != "" {
		return "apikey:" + apiKey
	}

	addr := r.RemoteAddr
	if xff := r.Header.Get(xForwardedForHdr); xff != "" {
		addr = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return "ip:" + host
	}
	return "ip:" + addr
}

// Middleware answers 429 with a Retry-After header once a client's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ClientID(r)

		allowed, retryAfter := rl.reserve(clientID)
		if !allowed {
			util.Log(r.Context()).Warn("rate limit exceeded",
				"client_id", clientID,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please retry after "+strconv.Itoa(retryAfter)+" seconds.",
				map[string]string{"retry_after": strconv.Itoa(retryAfter)})
			return
		}

		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message, Details: details})
}
