package lovable

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/splax/lovablebridge/internal/domain"
)

// ErrNoAccessToken is returned when the token endpoint answers without an
// access token.
var ErrNoAccessToken = errors.New("OAuth token exchange failed")

// CurrentUser returns the account behind the stored session token.
func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	return c.CurrentUserWithToken(ctx, "")
}

// CurrentUserWithToken resolves the account behind token without touching
// stored credentials. An empty token falls back to the stored one.
func (c *Client) CurrentUserWithToken(ctx context.Context, token string) (domain.User, error) {
	var user domain.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/user", token: token}, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

type tokenRequest struct {
	Code         string `json:"code"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	GrantType    string `json:"grant_type"`
	RedirectURI  string `json:"redirect_uri"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ExchangeCode trades an authorization code for a session token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	body := tokenRequest{
		Code:         code,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		GrantType:    "authorization_code",
		RedirectURI:  c.redirectURI,
	}
	var resp tokenResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/oauth/token", body: body, anonymous: true}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		return "", ErrNoAccessToken
	}
	return resp.AccessToken, nil
}

// AuthorizeURL builds the authorization URL the user is sent to, carrying
// state back to the callback.
func (c *Client) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", c.scope)
	params.Set("state", state)
	return c.appBase + "/oauth/authorize?" + params.Encode()
}
