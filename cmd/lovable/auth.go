package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func commandLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "Lovable API token (supply to avoid prompt)")
	oauth := fs.Bool("oauth", false, "Print the OAuth authorization URL")
	code := fs.String("code", "", "OAuth authorization code")
	state := fs.String("state", "", "OAuth state returned with the code")
	ghToken := fs.String("github", "", "GitHub personal access token")
	fs.Parse(args)

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case *oauth:
		url, err := a.auth.AuthorizeURL(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Open this URL to authorize:")
		fmt.Println(url)
		fmt.Println("The relay completes the callback, or rerun with --code and --state.")
	case strings.TrimSpace(*code) != "":
		user, err := a.auth.HandleCallback(ctx, *code, *state)
		if err != nil {
			return err
		}
		printLoggedIn(user.Email, user.Name)
	case strings.TrimSpace(*token) != "" || strings.TrimSpace(*ghToken) == "":
		secret := strings.TrimSpace(*token)
		if secret == "" {
			fmt.Print("Lovable API token: ")
			bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Print("\n")
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			secret = strings.TrimSpace(string(bytes))
		}
		user, err := a.auth.Authenticate(ctx, secret)
		if err != nil {
			return err
		}
		printLoggedIn(user.Email, user.Name)
	}

	if gh := strings.TrimSpace(*ghToken); gh != "" {
		if err := a.auth.SetProviderToken(ctx, gh); err != nil {
			return err
		}
		fmt.Println("GitHub token stored")
	}
	return nil
}

func printLoggedIn(email, name string) {
	switch {
	case email != "":
		fmt.Printf("login successful: %s\n", email)
	case name != "":
		fmt.Printf("login successful: %s\n", name)
	default:
		fmt.Println("login successful")
	}
}

func commandLogout(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandWhoami(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	user, err := a.auth.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%s\tgithub=%t\n", user.ID, user.Email, user.Name, user.GitHubConnected)
	return nil
}

func commandValidate(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	result := a.client.ValidateCredentials(ctx)
	fmt.Printf("lovable\t%t\n", result.Lovable)
	fmt.Printf("github\t%t\n", result.GitHub)
	for _, msg := range result.Errors {
		fmt.Printf("  %s\n", msg)
	}
	if !result.Lovable || !result.GitHub {
		return errors.New("credential validation failed")
	}
	return nil
}

func commandRepos(ctx context.Context) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	repos, err := a.client.ListGitHubRepositories(ctx)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		visibility := "public"
		if repo.Private {
			visibility = "private"
		}
		fmt.Printf("%s\t%s\t%s\n", repo.FullName, visibility, repo.HTMLURL)
	}
	return nil
}
