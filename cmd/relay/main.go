package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"

	"github.com/splax/lovablebridge/internal/github"
	httpx "github.com/splax/lovablebridge/internal/http"
	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/service/auth"
	"github.com/splax/lovablebridge/internal/service/editor"
	"github.com/splax/lovablebridge/internal/service/webhook"
	"github.com/splax/lovablebridge/internal/store"
	"github.com/splax/lovablebridge/internal/ws"
	"github.com/splax/lovablebridge/pkg/config"
	"github.com/splax/lovablebridge/pkg/logger"
)

func main() {
	cfg := config.LoadRelayConfig()
	log := logger.New("relay", logger.ParseLevel(cfg.Bridge.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Bridge.Store, log)
	if err != nil {
		log.Error("failed to open store", "backend", cfg.Bridge.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	tokens := auth.NewTokens(st)
	gh, err := github.New(cfg.Bridge.GitHubAPIBase, github.WithHTTPClient(&http.Client{Timeout: cfg.Bridge.HTTPTimeout}))
	if err != nil {
		log.Error("invalid github api base", "error", err)
		os.Exit(1)
	}
	client, err := lovable.New(cfg.Bridge.APIBase, cfg.Bridge.AppBase,
		lovable.WithHTTPClient(&http.Client{Timeout: cfg.Bridge.HTTPTimeout}),
		lovable.WithCredentials(tokens),
		lovable.WithOrigin(cfg.Bridge.Origin),
		lovable.WithOAuth(cfg.Bridge.ClientID, cfg.Bridge.ClientSecret, cfg.Bridge.RedirectURI, cfg.Bridge.OAuthScope),
		lovable.WithGitHub(gh),
		lovable.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to configure lovable client", "error", err)
		os.Exit(1)
	}
	authSvc := auth.New(st, client, log)

	embed := lovable.EmbedOptions{Theme: cfg.Bridge.EmbedTheme, AutoSave: true, ShowGitHub: true}
	if cfg.Bridge.EmbedIncludeToken {
		embed.Token, _ = tokens.SessionToken(ctx)
	}
	editors := editor.NewManager(client, embed, log)
	defer editors.Close()

	bus := webhook.NewBus()
	hub := ws.NewHub()
	defer hub.Close()

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RateLimitRedisPass, DB: cfg.RateLimitRedisDB})
		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			log.Warn("redis rate limiter unavailable, limiting per instance", "addr", addr, "error", err)
			_ = rdb.Close()
		} else {
			limiter = httpx.NewRedisRateLimiter(rdb, log)
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter(clockwork.NewRealClock())
	}

	router := httpx.NewRouter(log, bus, hub, authSvc, editors, limiter, cfg.Token, st.Ping,
		httpx.WithHeartbeat(cfg.Heartbeat),
		httpx.WithWebhookRateLimit(cfg.InboundRateLimit),
	)
	defer router.Close()
	if cfg.Token == "" {
		log.Warn("RELAY_TOKEN is empty, stream and editor routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("relay server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Open SSE streams only end when the hub closes them.
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("relay server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
