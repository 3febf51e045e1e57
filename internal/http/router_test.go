package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/service/auth"
	"github.com/splax/lovablebridge/internal/service/editor"
	"github.com/splax/lovablebridge/internal/service/webhook"
	"github.com/splax/lovablebridge/internal/ws"
)

const testRelayToken = "relay-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOAuth struct {
	user domain.User
	err  error
	code string
}

func (s *stubOAuth) HandleCallback(_ context.Context, code, _ string) (domain.User, error) {
	s.code = code
	return s.user, s.err
}

type stubEditorGateway struct {
	mu    sync.Mutex
	syncs int
}

func (g *stubEditorGateway) EmbedURL(projectID string, _ lovable.EmbedOptions) string {
	return "https://lovable.dev/embed/" + projectID + "?theme=light"
}

func (g *stubEditorGateway) ProjectURL(projectID string) string {
	return "https://lovable.dev/projects/" + projectID
}

func (g *stubEditorGateway) AppOrigin() string { return "https://lovable.dev" }

func (g *stubEditorGateway) SyncProject(context.Context, string, bool) (domain.SyncStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncs++
	return domain.SyncStatus{}, nil
}

type testRelay struct {
	router  *Router
	bus     *webhook.Bus
	hub     *ws.Hub
	oauth   *stubOAuth
	editors *editor.Manager
	gateway *stubEditorGateway
}

func newTestRelay(t *testing.T, storeHealth func(context.Context) error) *testRelay {
	t.Helper()
	bus := webhook.NewBus()
	hub := ws.NewHub()
	oauth := &stubOAuth{}
	gateway := &stubEditorGateway{}
	editors := editor.NewManager(gateway, lovable.EmbedOptions{Theme: "light"}, discardLogger())
	router := NewRouter(discardLogger(), bus, hub, oauth, editors, nil, testRelayToken, storeHealth,
		WithHeartbeat(50*time.Millisecond),
		WithClock(clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	t.Cleanup(func() {
		router.Close()
		editors.Close()
		hub.Close()
	})
	return &testRelay{router: router, bus: bus, hub: hub, oauth: oauth, editors: editors, gateway: gateway}
}

func (tr *testRelay) do(t *testing.T, method, target, body string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testRelayToken)
	}
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)
	return rec
}

func TestStreamRoutesRequireRelayToken(t *testing.T) {
	tr := newTestRelay(t, nil)

	for _, target := range []string{"/events?project_id=p1", "/ws?project_id=p1", "/editor/p1", "/editor/p1/status"} {
		rec := tr.do(t, http.MethodGet, target, "", false)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/events?project_id=p1", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rec.Code)
	}
}

func TestEventsRequiresProjectID(t *testing.T) {
	tr := newTestRelay(t, nil)
	rec := tr.do(t, http.MethodGet, "/events", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInboundWebhookFansOutToSSESubscriber(t *testing.T) {
	tr := newTestRelay(t, nil)
	srv := httptest.NewServer(tr.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?project_id=p1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testRelayToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(5 * time.Second)
	for tr.hub.Subscribers("p1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	body := `{"projectId":"p1","event":"build_completed","timestamp":"2024-01-01T00:00:00Z","data":{"buildId":"b1","success":true}}`
	post, err := http.Post(srv.URL+"/api/webhooks/lovable", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", post.StatusCode)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
				return
			}
		}
	}()

	select {
	case line := <-lines:
		payload, err := domain.ParseWebhookPayload([]byte(line))
		if err != nil {
			t.Fatalf("parse streamed payload: %v", err)
		}
		if payload.ProjectID != "p1" || payload.Event != domain.WebhookBuildCompleted {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no payload streamed")
	}
}

func TestLovableWebhookRejectsInvalidPayloads(t *testing.T) {
	tr := newTestRelay(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"projectId":`},
		{name: "missing project", body: `{"event":"code_updated","timestamp":"2024-01-01T00:00:00Z"}`},
		{name: "missing timestamp", body: `{"projectId":"p1","event":"code_updated"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tr.do(t, http.MethodPost, "/api/webhooks/lovable", tc.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}

	if rec := tr.do(t, http.MethodGet, "/api/webhooks/lovable", "", false); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestGitHubPushBecomesCodeUpdated(t *testing.T) {
	tr := newTestRelay(t, nil)

	received := make(chan domain.WebhookPayload, 1)
	stop, _ := tr.bus.Listen(context.Background(), webhook.Listener{OnPayload: func(p domain.WebhookPayload) {
		received <- p
	}})
	defer stop()

	body := `{"ref":"refs/heads/main","after":"abc123","commits":[{"added":["a.go"],"modified":["b.go"]},{"modified":["b.go"],"removed":["c.go"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github/p9", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload domain.WebhookPayload
	select {
	case payload = <-received:
	default:
		t.Fatalf("push was not dispatched")
	}
	if payload.ProjectID != "p9" || payload.Event != domain.WebhookCodeUpdated {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !payload.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", payload.Timestamp)
	}
	detail, err := payload.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	update, ok := detail.(domain.CodeUpdated)
	if !ok {
		t.Fatalf("expected CodeUpdated, got %T", detail)
	}
	if update.Commit != "abc123" || update.Branch != "main" {
		t.Fatalf("unexpected update %+v", update)
	}
	if got := strings.Join(update.Files, ","); got != "a.go,b.go,c.go" {
		t.Fatalf("unexpected files %q", got)
	}
}

func TestGitHubNonPushEvents(t *testing.T) {
	tr := newTestRelay(t, nil)

	for event, want := range map[string]int{"ping": http.StatusOK, "issues": http.StatusAccepted} {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github/p1", strings.NewReader(`{}`))
		req.Header.Set("X-GitHub-Event", event)
		rec := httptest.NewRecorder()
		tr.router.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", event, want, rec.Code)
		}
	}
	if rec := tr.do(t, http.MethodPost, "/api/webhooks/github/", `{}`, false); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without project, got %d", rec.Code)
	}
}

func TestOAuthCallback(t *testing.T) {
	tr := newTestRelay(t, nil)

	tr.oauth.user = domain.User{ID: "u1", Email: "dev@example.com"}
	rec := tr.do(t, http.MethodGet, "/oauth/callback?code=c1&state=s1", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if tr.oauth.code != "c1" {
		t.Fatalf("code not forwarded: %q", tr.oauth.code)
	}
	var body struct {
		Status string      `json:"status"`
		User   domain.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "authenticated" || body.User.ID != "u1" {
		t.Fatalf("unexpected body %+v", body)
	}

	cases := []struct {
		err  error
		want int
	}{
		{err: auth.ErrInvalidState, want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: boom", auth.ErrOAuthExchange), want: http.StatusBadGateway},
		{err: errors.New("disk full"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tr.oauth.err = tc.err
		if rec := tr.do(t, http.MethodGet, "/oauth/callback?code=c&state=s", "", false); rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}

	if rec := tr.do(t, http.MethodGet, "/oauth/callback?error=access_denied", "", false); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for provider error, got %d", rec.Code)
	}
}

func TestEditorRoutes(t *testing.T) {
	tr := newTestRelay(t, nil)

	if rec := tr.do(t, http.MethodGet, "/editor/p1/status", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the page is opened, got %d", rec.Code)
	}

	page := tr.do(t, http.MethodGet, "/editor/p1", "", true)
	if page.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", page.Code)
	}
	html := page.Body.String()
	if !strings.Contains(html, `src="https://lovable.dev/embed/p1?theme=light"`) {
		t.Fatalf("frame source missing from page: %s", html)
	}
	if !strings.Contains(html, `var allowed = "https:`) {
		t.Fatalf("allowed origin missing from page")
	}

	foreign := tr.do(t, http.MethodPost, "/editor/p1/messages", `{"origin":"https://evil.example","type":"lovable:ready"}`, true)
	var result struct {
		Applied bool         `json:"applied"`
		State   editor.State `json:"state"`
	}
	if err := json.Unmarshal(foreign.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Applied || result.State.Ready {
		t.Fatalf("foreign message should be ignored: %+v", result)
	}

	ready := tr.do(t, http.MethodPost, "/editor/p1/messages", `{"origin":"https://lovable.dev","type":"lovable:ready"}`, true)
	if err := json.Unmarshal(ready.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Applied || !result.State.Ready || result.State.Loading {
		t.Fatalf("ready message should apply: %+v", result)
	}

	refresh := tr.do(t, http.MethodPost, "/editor/p1/refresh", "", true)
	if refresh.Code != http.StatusOK || !strings.Contains(refresh.Body.String(), "embed/p1") {
		t.Fatalf("unexpected refresh response %d %s", refresh.Code, refresh.Body.String())
	}

	status := tr.do(t, http.MethodGet, "/editor/p1/status", "", true)
	var snapshot struct {
		State   editor.State `json:"state"`
		OpenURL string       `json:"openUrl"`
	}
	if err := json.Unmarshal(status.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.State.Reloads != 1 || !snapshot.State.Loading {
		t.Fatalf("unexpected state after refresh %+v", snapshot.State)
	}
	if snapshot.OpenURL != "https://lovable.dev/projects/p1" {
		t.Fatalf("unexpected open url %q", snapshot.OpenURL)
	}
}

func TestHealthzReportsStore(t *testing.T) {
	healthy := newTestRelay(t, func(context.Context) error { return nil })
	if rec := healthy.do(t, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := newTestRelay(t, func(context.Context) error { return errors.New("connection refused") })
	rec := degraded.do(t, http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("store error missing: %s", rec.Body.String())
	}
}

func TestOAuthCallbackRateLimited(t *testing.T) {
	tr := newTestRelay(t, nil)
	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitOAuth; i++ {
		last = tr.do(t, http.MethodGet, "/oauth/callback?code=c&state=s", "", false)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header %q", last.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := newMemoryRateLimiter(clk)
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := rl.Allow(ctx, "github:project:p1", 2, time.Minute); !d.allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if d := rl.Allow(ctx, "github:project:p1", 2, time.Minute); d.allowed {
		t.Fatalf("third request should be limited")
	}
	if d := rl.Allow(ctx, "github:project:p2", 2, time.Minute); !d.allowed {
		t.Fatalf("other projects are independent")
	}

	clk.Advance(time.Minute + time.Second)
	if d := rl.Allow(ctx, "github:project:p1", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("window should reset, got %+v", d)
	}

	clk.Advance(rateSweepInterval)
	deadline := time.Now().Add(2 * time.Second)
	for rl.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expired windows should be swept, %d left", rl.size())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := NewRedisRateLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), discardLogger())
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := limiter.Allow(ctx, "lovable:project:p1", 3, time.Minute); !d.allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	d := limiter.Allow(ctx, "lovable:project:p1", 3, time.Minute)
	if d.allowed || d.count != 4 {
		t.Fatalf("fourth request should be limited, got %+v", d)
	}
	if ttl := mr.TTL(redisRateLimitPrefix + "lovable:project:p1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if d := limiter.Allow(ctx, "lovable:project:p1", 3, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("window should reset after expiry, got %+v", d)
	}

	mr.Close()
	if d := limiter.Allow(ctx, "lovable:project:p1", 3, time.Minute); !d.allowed {
		t.Fatal("limiter must fail open when redis is down")
	}
}

func TestWebhookLimitsAreKeyedByProject(t *testing.T) {
	tr := newTestRelay(t, nil)
	route := "/api/webhooks/github/{projectID}"
	before := testutil.ToFloat64(tr.router.rateLimitHits.WithLabelValues(route, rateSourceGitHub))

	ping := func(projectID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/github/"+projectID, nil)
		req.Header.Set("X-GitHub-Event", "ping")
		rec := httptest.NewRecorder()
		tr.router.ServeHTTP(rec, req)
		return rec.Code
	}
	for i := 0; i < rateLimitWebhook; i++ {
		if code := ping("busy"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := ping("busy"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the project budget is spent, got %d", code)
	}
	if code := ping("quiet"); code != http.StatusOK {
		t.Fatalf("another project from the same address must not be limited, got %d", code)
	}
	if got := testutil.ToFloat64(tr.router.rateLimitHits.WithLabelValues(route, rateSourceGitHub)) - before; got != 1 {
		t.Fatalf("expected one github rate limit hit, got %v", got)
	}
}

func TestLovableWebhookKeyKeepsBody(t *testing.T) {
	body := `{"projectId":"p9","event":"code_updated","timestamp":"2024-01-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/lovable", strings.NewReader(body))
	if key := lovableWebhookKey(req); key != "project:p9" {
		t.Fatalf("unexpected key %q", key)
	}
	rest, err := io.ReadAll(req.Body)
	if err != nil || string(rest) != body {
		t.Fatalf("body must be readable after keying, got %q %v", rest, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/lovable", strings.NewReader(`not json`))
	req.RemoteAddr = "10.0.0.7:5555"
	if key := lovableWebhookKey(req); key != "ip:10.0.0.7" {
		t.Fatalf("expected address fallback, got %q", key)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/webhooks/github/p1": "/api/webhooks/github/{projectID}",
		"/editor/p1":              "/editor/{projectID}",
		"/editor/p1/messages":     "/editor/{projectID}/messages",
		"/events":                 "/events",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
