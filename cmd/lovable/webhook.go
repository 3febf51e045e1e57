package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/splax/lovablebridge/internal/domain"
	"github.com/splax/lovablebridge/internal/service/project"
	"github.com/splax/lovablebridge/internal/service/syncmon"
	"github.com/splax/lovablebridge/internal/service/webhook"
)

func commandWebhook(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lovable webhook [register|remove|simulate|listen]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("webhook "+sub, flag.ExitOnError)
	projectID := fs.String("project", "", "Project record or remote identifier")
	target := fs.String("target", "", "Webhook target URL (register)")
	webhookID := fs.String("id", "", "Webhook identifier (remove)")
	event := fs.String("event", string(domain.WebhookCodeUpdated), "Event name (simulate)")
	data := fs.String("data", "", "JSON event data (simulate)")
	onGitHub := fs.Bool("github", false, "Install the hook on the GitHub repository instead (register)")
	repo := fs.String("repo", "", "GitHub repository owner/name or URL (register --github)")
	fs.Parse(args[1:])

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	remote, err := a.remoteID(*projectID)
	if err != nil {
		return err
	}

	switch sub {
	case "register":
		if *onGitHub {
			return webhookRegisterGitHub(ctx, a, *projectID, remote, *repo, *target)
		}
		hookURL := strings.TrimSpace(*target)
		if hookURL == "" {
			hookURL = a.client.WebhookURL()
		}
		hook, err := a.client.RegisterWebhook(ctx, remote, hookURL)
		if err != nil {
			return err
		}
		fmt.Printf("webhook registered: %s\n", hook.ID)
		if hook.Secret != "" {
			fmt.Printf("secret: %s\n", hook.Secret)
		}
		return nil
	case "remove":
		if strings.TrimSpace(*webhookID) == "" {
			return errors.New("--id is required")
		}
		if err := a.client.RemoveWebhook(ctx, remote, *webhookID); err != nil {
			return err
		}
		fmt.Println("webhook removed")
		return nil
	case "simulate":
		return webhookSimulate(ctx, a, remote, *event, *data)
	case "listen":
		return webhookListen(ctx, a, remote)
	default:
		return fmt.Errorf("unknown webhook command: %s", sub)
	}
}

// webhookRegisterGitHub installs a repository hook delivering push events to
// the relay's GitHub route for remote.
func webhookRegisterGitHub(ctx context.Context, a *app, recordID, remote, repo, target string) error {
	fullName := strings.TrimSpace(repo)
	if fullName == "" {
		record, err := a.projects.Get(recordID)
		if err != nil {
			record, err = a.projects.FindByRemoteID(remote)
		}
		if err != nil {
			return errors.New("--repo is required for untracked projects")
		}
		fullName = record.RepoURL
	}
	if name, ok := domain.GitHubFullName(fullName); ok {
		fullName = name
	}
	if target = strings.TrimSpace(target); target == "" {
		target = strings.TrimRight(a.cfg.RelayURL, "/") + "/api/webhooks/github/" + url.PathEscape(remote)
	}
	hook, err := a.client.CreateGitHubWebhook(ctx, fullName, target)
	if err != nil {
		return err
	}
	fmt.Printf("github webhook created: %d on %s (%s)\n", hook.ID, fullName, strings.Join(hook.Events, ","))
	return nil
}

// webhookSimulate posts a payload to the relay's inbound route, exercising
// the same path a real notification takes.
func webhookSimulate(ctx context.Context, a *app, remote, event, data string) error {
	payload := domain.WebhookPayload{
		ProjectID: remote,
		Event:     domain.WebhookEvent(strings.TrimSpace(event)),
		Timestamp: time.Now().UTC(),
	}
	if data = strings.TrimSpace(data); data != "" {
		if !json.Valid([]byte(data)) {
			return errors.New("--data must be valid JSON")
		}
		payload.Data = json.RawMessage(data)
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := strings.TrimRight(a.cfg.RelayURL, "/") + "/api/webhooks/lovable"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay rejected payload: %s %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	fmt.Printf("delivered %s\n", webhook.Describe(payload))
	return nil
}

func (a *app) startRelay(ctx context.Context, remote string, onPayload func(domain.WebhookPayload)) (*webhook.Relay, error) {
	source, err := webhook.NewStreamSource(a.cfg.RelayURL, remote, a.cfg.RelayToken, webhook.WithStreamLogger(a.log))
	if err != nil {
		return nil, err
	}
	relay := webhook.NewRelay(remote, source, webhook.WithRevert(a.cfg.WebhookRevert), webhook.WithLogger(a.log))
	relay.Subscribe(func(payload domain.WebhookPayload) {
		if _, err := a.projects.ApplyWebhook(ctx, payload); err != nil && !errors.Is(err, project.ErrNotFound) {
			a.log.Warn("could not apply webhook to project", "project_id", payload.ProjectID, "error", err)
		}
		onPayload(payload)
	})
	if err := relay.Start(ctx); err != nil {
		relay.Close()
		return nil, err
	}
	return relay, nil
}

func webhookListen(ctx context.Context, a *app, remote string) error {
	loc := a.cfg.DisplayLocation()
	relay, err := a.startRelay(ctx, remote, func(p domain.WebhookPayload) {
		fmt.Printf("%s\t%s\n", p.Timestamp.In(loc).Format(syncmon.TimestampLayout), webhook.Describe(p))
	})
	if err != nil {
		return err
	}
	defer relay.Close()
	fmt.Printf("%s (%s)\n", relay.StatusText(), remote)
	<-ctx.Done()
	return nil
}

func commandWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	projectID := fs.String("project", "", "Project record or remote identifier")
	fs.Parse(args)

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	remote, err := a.remoteID(*projectID)
	if err != nil {
		return err
	}
	loc := a.cfg.DisplayLocation()

	monitor := syncmon.New(remote, a.client,
		syncmon.WithInterval(a.cfg.SyncPollInterval),
		syncmon.WithLocation(loc),
		syncmon.WithLogger(a.log),
		syncmon.OnUpdate(func(snap syncmon.Snapshot) {
			line := syncmon.StatusText(snap.Status, loc)
			if snap.Syncing {
				line += " (syncing)"
			}
			if snap.Error != "" {
				line += "\t" + snap.Error
			}
			fmt.Printf("sync\t%s\t%s\n", snap.State, line)
		}),
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	relay, err := a.startRelay(ctx, remote, func(p domain.WebhookPayload) {
		fmt.Printf("webhook\t%s\t%s\n", p.Timestamp.In(loc).Format(syncmon.TimestampLayout), webhook.Describe(p))
		if p.Event != domain.WebhookCodeUpdated {
			return
		}
		go func() {
			if _, err := monitor.Sync(ctx, false); err != nil && !errors.Is(err, syncmon.ErrSyncInProgress) && ctx.Err() == nil {
				a.log.Warn("sync after code update failed", "project_id", remote, "error", err)
			}
		}()
	})
	if err != nil {
		a.log.Warn("webhook relay unavailable, polling only", "error", err)
	} else {
		defer relay.Close()
	}

	go func() {
		err := a.projects.Follow(ctx, func(list []domain.Project) {
			fmt.Printf("projects\treloaded %d records\n", len(list))
		})
		if err != nil && !errors.Is(err, project.ErrFollowUnsupported) && ctx.Err() == nil {
			a.log.Warn("project follow stopped", "error", err)
		}
	}()

	<-ctx.Done()
	return nil
}
