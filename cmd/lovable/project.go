package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/splax/lovablebridge/internal/lovable"
	"github.com/splax/lovablebridge/internal/service/syncmon"
)

func commandProject(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lovable project [list|add|remove|sync|select|rename|delete-remote|connect|disconnect|repo-status]")
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sub := args[0]
	switch sub {
	case "list":
		return projectList(a)
	case "add":
		return projectAdd(ctx, a, args[1:])
	case "remove":
		return projectRemove(ctx, a, args[1:])
	case "sync":
		return projectSync(ctx, a, args[1:])
	case "select":
		return projectSelect(a, args[1:])
	case "rename":
		return projectRename(ctx, a, args[1:])
	case "delete-remote":
		return projectDeleteRemote(ctx, a, args[1:])
	case "connect":
		return projectConnect(ctx, a, args[1:])
	case "disconnect":
		return projectDisconnect(ctx, a, args[1:])
	case "repo-status":
		return projectRepoStatus(ctx, a, args[1:])
	default:
		return fmt.Errorf("unknown project command: %s", sub)
	}
}

func projectList(a *app) error {
	loc := a.cfg.DisplayLocation()
	for _, p := range a.projects.List() {
		last := "never"
		if p.LastSync != nil {
			last = p.LastSync.In(loc).Format(syncmon.TimestampLayout)
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.RemoteProjectID, p.RepoURL, last)
	}
	return nil
}

func projectAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project add", flag.ExitOnError)
	name := fs.String("name", "", "Project name")
	repo := fs.String("repo", "", "GitHub repository URL")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if strings.TrimSpace(*repo) == "" {
		return errors.New("--repo is required")
	}
	if !lovable.IsGitHubURL(*repo) {
		return fmt.Errorf("%q is not a GitHub repository URL", *repo)
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	p, err := a.projects.Add(ctx, *name, *repo)
	if err != nil {
		return err
	}
	fmt.Printf("project added: %s (%s) status=%s\n", p.ID, p.Name, p.Status)
	return nil
}

func projectRemove(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project remove", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if err := a.projects.Remove(ctx, *id); err != nil {
		return err
	}
	fmt.Println("project removed")
	return nil
}

func projectSync(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project sync", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	p, err := a.projects.Sync(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("project synced: %s at %s\n", p.ID, p.LastSync.In(a.cfg.DisplayLocation()).Format(syncmon.TimestampLayout))
	return nil
}

func projectSelect(a *app, args []string) error {
	fs := flag.NewFlagSet("project select", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	remote, err := a.projects.Select(*id)
	if err != nil {
		return err
	}
	fmt.Println(remote)
	return nil
}

func projectRename(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project rename", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	name := fs.String("name", "", "New project name")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	p, err := a.projects.Rename(ctx, *id, *name)
	if err != nil {
		return err
	}
	fmt.Printf("project renamed: %s (%s)\n", p.ID, p.Name)
	return nil
}

func projectDeleteRemote(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project delete-remote", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	if err := a.projects.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Println("remote project deleted")
	return nil
}

func projectConnect(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project connect", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	repo := fs.String("repo", "", "GitHub repository URL")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if !lovable.IsGitHubURL(*repo) {
		return fmt.Errorf("%q is not a GitHub repository URL", *repo)
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	p, err := a.projects.Connect(ctx, *id, *repo)
	if err != nil {
		return err
	}
	fmt.Printf("repository connected: %s -> %s\n", p.ID, p.RepoURL)
	return nil
}

func projectDisconnect(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project disconnect", flag.ExitOnError)
	id := fs.String("id", "", "Project record identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if err := a.requireLogin(ctx); err != nil {
		return err
	}
	p, err := a.projects.Disconnect(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("repository disconnected: %s status=%s\n", p.ID, p.Status)
	return nil
}

func projectRepoStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("project repo-status", flag.ExitOnError)
	projectID := fs.String("project", "", "Project record or remote identifier")
	fs.Parse(args)
	remote, err := a.remoteID(*projectID)
	if err != nil {
		return err
	}
	status, err := a.client.RepositoryStatus(ctx, remote)
	if err != nil {
		return err
	}
	fmt.Printf("connected\t%t\nsync\t%t\nwebhook\t%t\n", status.Connected, status.SyncEnabled, status.WebhookActive)
	return nil
}

func commandSync(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: lovable sync [status|now]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("sync "+sub, flag.ExitOnError)
	projectID := fs.String("project", "", "Project record or remote identifier")
	force := fs.Bool("force", false, "Force a full sync")
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
	loc := a.cfg.DisplayLocation()

	switch sub {
	case "status":
		status, err := a.client.GetSyncStatus(ctx, remote)
		if err != nil {
			return err
		}
		fmt.Println(syncmon.StatusText(&status, loc))
		for _, c := range status.RecentCommits(3) {
			fmt.Printf("  %s\t%s\t%s\n", shortHash(c.Hash), c.Author, c.Message)
		}
		return nil
	case "now":
		monitor := syncmon.New(remote, a.client, syncmon.WithLocation(loc), syncmon.WithLogger(a.log))
		if _, err := monitor.Sync(ctx, *force); err != nil {
			return err
		}
		fmt.Println(monitor.StatusText())
		return nil
	default:
		return fmt.Errorf("unknown sync command: %s", sub)
	}
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func commandEmbed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	projectID := fs.String("project", "", "Project record or remote identifier")
	readOnly := fs.Bool("read-only", false, "Open the editor read-only")
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
	opts := lovable.EmbedOptions{Theme: a.cfg.EmbedTheme, AutoSave: true, ShowGitHub: true, ReadOnly: *readOnly}
	if a.cfg.EmbedIncludeToken {
		opts.Token, err = a.tokens.SessionToken(ctx)
		if err != nil {
			return err
		}
		a.log.Warn("embed URL carries the session token")
	}
	fmt.Printf("embed\t%s\n", a.client.EmbedURL(remote, opts))
	fmt.Printf("open\t%s\n", a.client.ProjectURL(remote))
	return nil
}
