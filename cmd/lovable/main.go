package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/splax/lovablebridge/internal/github"
	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/service/auth"
	"github.com/splax/lovablebridge/internal/service/project"
	"github.com/splax/lovablebridge/internal/store"
	"github.com/splax/lovablebridge/pkg/config"
	"github.com/splax/lovablebridge/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "login":
		err = commandLogin(ctx, args)
	case "logout":
		err = commandLogout(ctx)
	case "whoami":
		err = commandWhoami(ctx)
	case "validate":
		err = commandValidate(ctx)
	case "repos":
		err = commandRepos(ctx)
	case "project":
		err = commandProject(ctx, args)
	case "sync":
		err = commandSync(ctx, args)
	case "embed":
		err = commandEmbed(ctx, args)
	case "webhook":
		err = commandWebhook(ctx, args)
	case "watch":
		err = commandWatch(ctx, args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the services every command works against.
type app struct {
	cfg      config.BridgeConfig
	log      *slog.Logger
	store    store.Store
	tokens   *auth.Tokens
	client   *lovable.Client
	auth     *auth.Service
	projects *project.Service
}

func openApp(ctx context.Context) (*app, error) {
	cfg := config.LoadBridgeConfig()
	log := logger.NewWithWriter(os.Stderr, "lovable", logger.ParseLevel(cfg.LogLevel))

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	gh, err := github.New(cfg.GitHubAPIBase, github.WithHTTPClient(httpClient))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	tokens := auth.NewTokens(st)
	client, err := lovable.New(cfg.APIBase, cfg.AppBase,
		lovable.WithHTTPClient(httpClient),
		lovable.WithCredentials(tokens),
		lovable.WithOrigin(cfg.Origin),
		lovable.WithOAuth(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.OAuthScope),
		lovable.WithGitHub(gh),
		lovable.WithLogger(log),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	projects := project.New(st, client, log)
	if err := projects.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load projects: %w", err)
	}
	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		tokens:   tokens,
		client:   client,
		auth:     auth.New(st, client, log),
		projects: projects,
	}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}

func (a *app) requireLogin(ctx context.Context) error {
	if !a.auth.IsAuthenticated(ctx) {
		return errors.New("please login first using 'lovable login'")
	}
	return nil
}

// remoteID accepts either a local record id or a remote project id.
func (a *app) remoteID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("--project is required")
	}
	remote, err := a.projects.Select(id)
	switch {
	case err == nil:
		return remote, nil
	case errors.Is(err, project.ErrNotFound):
		return id, nil
	default:
		return "", err
	}
}

func printUsage() {
	fmt.Printf("lovable CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	lovable login [--token T | --oauth | --code C --state S] [--github T]
	lovable logout
	lovable whoami
	lovable validate
	lovable repos
	lovable project list
	lovable project add --name <name> --repo <github-url>
	lovable project remove --id <id>
	lovable project sync --id <id>
	lovable project select --id <id>
	lovable project rename --id <id> --name <name>
	lovable project delete-remote --id <id>
	lovable project connect --id <id> --repo <github-url>
	lovable project disconnect --id <id>
	lovable project repo-status --project <id>
	lovable sync status --project <id>
	lovable sync now --project <id> [--force]
	lovable embed --project <id>
	lovable webhook register --project <id> [--target url] [--github [--repo owner/name]]
	lovable webhook remove --project <id> --id <webhook-id>
	lovable webhook simulate --project <id> [--event code_updated] [--data json]
	lovable webhook listen --project <id>
	lovable watch --project <id>
	lovable version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
