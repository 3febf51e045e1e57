// Package httpx is the relay's HTTP surface: inbound webhooks, subscriber
// streams, the OAuth callback and the hosted editor page.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/service/auth"
	"github.com/splax/lovablebridge/internal/service/editor"
	"github.com/splax/lovablebridge/internal/service/webhook"
	"github.com/splax/lovablebridge/internal/ws"
)

// OAuthCallback completes the authorization-code flow.
type OAuthCallback interface {
	HandleCallback(ctx context.Context, code, state string) (domain.User, error)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	bus         *webhook.Bus
	hub         *ws.Hub
	oauth       OAuthCallback
	editors     *editor.Manager
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	relayToken  string
	storeHealth func(context.Context) error
	heartbeat   time.Duration
	webhookRate int
	clock       clockwork.Clock
	stopFanout  func()

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	webhooksReceived   *prometheus.CounterVec
}

// Option customises a Router.
type Option func(*Router)

// WithHeartbeat sets the keep-alive interval for SSE and websocket streams.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// WithWebhookRateLimit sets the per-project limit for inbound webhook routes.
func WithWebhookRateLimit(perMinute int) Option {
	return func(r *Router) {
		if perMinute > 0 {
			r.webhookRate = perMinute
		}
	}
}

// WithClock overrides the clock used to timestamp translated webhooks and to
// drive the default rate limiter.
func WithClock(c clockwork.Clock) Option {
	return func(r *Router) {
		if c != nil {
			r.clock = c
		}
	}
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWebhook   = 120
	rateLimitOAuth     = 20
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 25 * time.Second
	maxWebhookBody     = 1 << 20
)

// NewRouter assembles routes with dependencies. Payloads dispatched on bus
// are fanned out to the hub's subscribers until Close is called.
func NewRouter(logger *slog.Logger, bus *webhook.Bus, hub *ws.Hub, oauth OAuthCallback, editors *editor.Manager, limiter RateLimiter, relayToken string, storeHealth func(context.Context) error, opts ...Option) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		bus:     bus,
		hub:     hub,
		oauth:   oauth,
		editors: editors,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		relayToken:  strings.TrimSpace(relayToken),
		storeHealth: storeHealth,
		heartbeat:   defaultHeartbeat,
		webhookRate: rateLimitWebhook,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter(r.clock)
	}
	r.initMetrics()
	r.stopFanout, _ = bus.Listen(context.Background(), webhook.Listener{OnPayload: r.fanout})
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close stops the fanout and releases background resources.
func (r *Router) Close() {
	if r.stopFanout != nil {
		r.stopFanout()
	}
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.HandleFunc("/metrics", r.audit(promhttp.Handler().ServeHTTP))
	lovableRule := rateRule{source: rateSourceLovable, limit: r.webhookRate, window: rateWindowDefault, key: lovableWebhookKey}
	githubRule := rateRule{source: rateSourceGitHub, limit: r.webhookRate, window: rateWindowDefault, key: githubWebhookKey}
	streamRule := rateRule{source: rateSourceStream, limit: rateLimitStream, window: rateWindowRealtime, key: streamKey}
	oauthRule := rateRule{source: rateSourceOAuth, limit: rateLimitOAuth, window: rateWindowDefault, key: ipKey}

	r.mux.HandleFunc("/api/webhooks/lovable", r.audit(r.limited(lovableRule, r.handleLovableWebhook)))
	r.mux.HandleFunc("/api/webhooks/github/", r.audit(r.limited(githubRule, r.handleGitHubWebhook)))
	r.mux.HandleFunc("/events", r.audit(r.requireRelayToken(r.limited(streamRule, r.handleEvents))))
	r.mux.HandleFunc("/ws", r.audit(r.requireRelayToken(r.limited(streamRule, r.handleWS))))
	r.mux.HandleFunc("/oauth/callback", r.audit(r.limited(oauthRule, r.handleOAuthCallback)))
	r.mux.HandleFunc("/editor/", r.audit(r.requireRelayToken(r.handleEditor)))
}

func (r *Router) fanout(payload domain.WebhookPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("encode webhook payload", "project_id", payload.ProjectID, "error", err)
		return
	}
	r.hub.Broadcast(payload.ProjectID, data)
}

func (r *Router) handleLovableWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	payload, err := domain.ParseWebhookPayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.accept(w, "lovable", payload)
}

// githubPush is the subset of a GitHub push event the relay translates.
type githubPush struct {
	Ref        string         `json:"ref"`
	After      string         `json:"after"`
	Commits    []githubCommit `json:"commits"`
	HeadCommit *githubCommit  `json:"head_commit"`
}

type githubCommit struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

func (p githubPush) changedFiles() []string {
	commits := p.Commits
	if len(commits) == 0 && p.HeadCommit != nil {
		commits = []githubCommit{*p.HeadCommit}
	}
	seen := make(map[string]struct{})
	var files []string
	for _, c := range commits {
		for _, group := range [][]string{c.Added, c.Modified, c.Removed} {
			for _, f := range group {
				if _, ok := seen[f]; ok {
					continue
				}
				seen[f] = struct{}{}
				files = append(files, f)
			}
		}
	}
	return files
}

func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimPrefix(req.URL.Path, "/api/webhooks/github/")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	switch req.Header.Get("X-GitHub-Event") {
	case "ping":
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "push":
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	var push githubPush
	if err := json.NewDecoder(io.LimitReader(req.Body, maxWebhookBody)).Decode(&push); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(push.After) == "" {
		writeError(w, http.StatusBadRequest, "push event has no head commit")
		return
	}
	data, err := json.Marshal(domain.CodeUpdated{
		Commit: push.After,
		Branch: strings.TrimPrefix(push.Ref, "refs/heads/"),
		Files:  push.changedFiles(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.accept(w, "github", domain.WebhookPayload{
		ProjectID: projectID,
		Event:     domain.WebhookCodeUpdated,
		Timestamp: r.clock.Now().UTC(),
		Data:      data,
	})
}

func (r *Router) accept(w http.ResponseWriter, source string, payload domain.WebhookPayload) {
	r.recordWebhook(source, string(payload.Event))
	r.logger.Info("webhook received", "source", source, "project_id", payload.ProjectID, "event", payload.Event)
	r.bus.Dispatch(payload)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(projectID, client)
	defer func() {
		r.hub.Unregister(projectID, client)
		client.Close()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer func() {
			ticker.Stop()
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
}

func (r *Router) handleOAuthCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.oauth == nil {
		writeError(w, http.StatusServiceUnavailable, "oauth not configured")
		return
	}
	query := req.URL.Query()
	if reason := query.Get("error"); reason != "" {
		if desc := query.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		writeError(w, http.StatusBadRequest, reason)
		return
	}
	user, err := r.oauth.HandleCallback(req.Context(), query.Get("code"), query.Get("state"))
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidState):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrOAuthExchange):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		r.logger.Error("oauth callback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not complete login")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "authenticated", "user": user})
}

func (r *Router) handleEditor(w http.ResponseWriter, req *http.Request) {
	if r.editors == nil {
		writeError(w, http.StatusServiceUnavailable, "editor not configured")
		return
	}
	parts := strings.Split(strings.TrimPrefix(req.URL.Path, "/editor/"), "/")
	projectID := parts[0]
	if projectID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.handleEditorPage(w, req, projectID)
		return
	}
	switch parts[1] {
	case "messages":
		r.handleEditorMessage(w, req, projectID)
	case "refresh":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		session, ok := r.editors.Get(projectID)
		if !ok {
			writeError(w, http.StatusNotFound, "editor session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"src": session.Refresh()})
	case "status":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		session, ok := r.editors.Get(projectID)
		if !ok {
			writeError(w, http.StatusNotFound, "editor session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": session.State(), "openUrl": session.OpenURL()})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleEditorPage(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	session := r.editors.Open(projectID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := editorPage.Execute(w, editorPageData{
		ProjectID:    projectID,
		Source:       session.Source(),
		Origin:       session.Origin(),
		OpenURL:      session.OpenURL(),
		MessagesPath: "/editor/" + projectID + "/messages",
	})
	if err != nil {
		r.logger.Error("render editor page", "project_id", projectID, "error", err)
	}
}

func (r *Router) handleEditorMessage(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	session, ok := r.editors.Get(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "editor session not found")
		return
	}
	var payload struct {
		Origin string          `json:"origin"`
		Type   string          `json:"type"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	applied := session.HandleMessage(req.Context(), payload.Origin, editor.Message{Type: payload.Type, Data: payload.Data})
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "state": session.State()})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.storeHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.storeHealth(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	components["subscribers"] = map[string]any{"webhook_listeners": r.bus.Listeners()}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Actor
		} else if strings.HasPrefix(req.URL.Path, "/api/webhooks/") {
			actor = "webhook"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/webhooks/github/"):
		return "/api/webhooks/github/{projectID}"
	case strings.HasPrefix(path, "/editor/"):
		parts := strings.Split(strings.TrimPrefix(path, "/editor/"), "/")
		if len(parts) == 2 {
			return "/editor/{projectID}/" + parts[1]
		}
		return "/editor/{projectID}"
	}
	return path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// writeJSON writes payload with status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
