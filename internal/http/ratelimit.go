package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"
)

const (
	rateSweepInterval    = 5 * time.Minute
	redisRateLimitPrefix = "lovable:relay:ratelimit:"
	redisLimiterTimeout  = 250 * time.Millisecond
)

// Rate limit sources, used as key scopes and as the metric label.
const (
	rateSourceLovable = "lovable"
	rateSourceGitHub  = "github"
	rateSourceStream  = "stream"
	rateSourceOAuth   = "oauth"
)

// RateLimiter counts requests per key inside fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateRule limits one route. Keys are scoped by source so a project's
// inbound notifications never share a budget with its stream clients.
type rateRule struct {
	source string
	limit  int
	window time.Duration
	key    func(*http.Request) string
}

func (r *Router) limited(rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rule.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := rule.source + ":" + rule.key(req)
		decision := r.limiter.Allow(req.Context(), key, rule.limit, rule.window)
		setRateHeaders(w, rule.limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		route := routeLabel(req.URL.Path)
		r.recordRateLimitHit(route, rule.source)
		r.logger.Warn("rate limit exceeded", "route", route, "source", rule.source, "key", key)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

// lovableWebhookKey keys inbound notifications by the payload's project and
// restores the body for the handler. Bodies without a project id fall back
// to the sender address.
func lovableWebhookKey(req *http.Request) string {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	req.Body = io.NopCloser(bytes.NewReader(body))
	if err == nil {
		var peek struct {
			ProjectID string `json:"projectId"`
		}
		if json.Unmarshal(body, &peek) == nil && strings.TrimSpace(peek.ProjectID) != "" {
			return "project:" + strings.TrimSpace(peek.ProjectID)
		}
	}
	return "ip:" + remoteHost(req)
}

func githubWebhookKey(req *http.Request) string {
	if id := strings.TrimPrefix(req.URL.Path, "/api/webhooks/github/"); id != "" && !strings.Contains(id, "/") {
		return "project:" + id
	}
	return "ip:" + remoteHost(req)
}

// streamKey limits each address per project so one client reconnecting in a
// loop cannot starve subscribers of other projects.
func streamKey(req *http.Request) string {
	return "project:" + req.URL.Query().Get("project_id") + ":ip:" + remoteHost(req)
}

func ipKey(req *http.Request) string {
	return "ip:" + remoteHost(req)
}

// remoteHost is the peer address. Forwarded headers are not trusted for
// limiting.
func remoteHost(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func setRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

type memoryRateLimiter struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	windows map[string]rateDecision
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a process-local limiter. Expired windows are
// swept every five minutes of clock time.
func NewMemoryRateLimiter(clock clockwork.Clock) RateLimiter {
	return newMemoryRateLimiter(clock)
}

func newMemoryRateLimiter(clock clockwork.Clock) *memoryRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rl := &memoryRateLimiter{
		clock:   clock,
		windows: make(map[string]rateDecision),
		stop:    make(chan struct{}),
	}
	ticker := clock.NewTicker(rateSweepInterval)
	go rl.sweep(ticker)
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	current, ok := rl.windows[key]
	if !ok || now.After(current.windowEnd) {
		current = rateDecision{windowEnd: now.Add(window)}
	}
	if current.count >= limit {
		current.allowed = false
		return current
	}
	current.count++
	current.allowed = true
	rl.windows[key] = current
	return current
}

func (rl *memoryRateLimiter) sweep(ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.Chan():
			rl.dropExpired(now)
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) dropExpired(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if now.After(w.windowEnd) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// redisRateLimiter shares windows between relay instances. The counter and
// its expiry are read in one transaction.
type redisRateLimiter struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisRateLimiter wraps client. The limiter owns the client and closes
// it on Close.
func NewRedisRateLimiter(client redis.UniversalClient, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisRateLimiter{client: client, logger: logger}
}

// Allow fails open when redis is unreachable.
func (rl *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	ctx, cancel := context.WithTimeout(ctx, redisLimiterTimeout)
	defer cancel()

	redisKey := redisRateLimitPrefix + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		return rateDecision{allowed: true}
	}
	remaining := ttl.Val()
	if remaining <= 0 {
		if err := rl.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			rl.logger.Error("redis rate limiter expire failed", "key", key, "error", err)
		}
		remaining = window
	}
	count := int(incr.Val())
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(remaining),
	}
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
