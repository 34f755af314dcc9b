package canva

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/envisionapp/envision-api/internal/model"
)

// DefaultAuthBase hosts the end-user authorization page.  The REST API
// (token, userinfo, exports) lives under the api base passed to New.
const DefaultAuthBase = "https://www.canva.com"

// Client talks to the Canva platform on behalf of one OAuth app.  It is
// safe for concurrent use; per-user state (token bundles) never lives on
// the client, only on the user records passed in by callers.
type Client struct {
	apiBase      string
	oauth        oauth2.Config
	http         *http.Client
	pollInterval time.Duration
	pollBudget   time.Duration
}

// New constructs a Client.  redirectURL is this service's callback URL;
// apiBase is normally https://api.canva.com and overridable for tests.
func New(clientID, clientSecret, redirectURL, apiBase string) *Client {
	return &Client{
		apiBase: apiBase,
		oauth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"design:content:read", "design:meta:read", "profile:read"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   DefaultAuthBase + "/api/oauth/authorize",
				TokenURL:  apiBase + "/rest/v1/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:         &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		pollBudget:   90 * time.Second,
	}
}

// AuthCodeURL builds the provider authorization URL embedding the state
// nonce and the S256 challenge for the given PKCE verifier.
func (c *Client) AuthCodeURL(state, verifier string) string {
	return c.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange swaps an authorization code plus the stored PKCE verifier for
// a provider token bundle.  Any upstream rejection is reported as
// ErrTokenExchange so the callback can emit a stable reason code.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (model.TokenBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return model.TokenBundle{}, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	return bundleFromToken(tok), nil
}

// Refresh performs a refresh-token grant and returns the new bundle.
// The upstream may rotate the refresh token; when it does not return a
// new one, the old one is carried over by the oauth2 token source.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.TokenBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	ts := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return model.TokenBundle{}, err
	}
	return bundleFromToken(tok), nil
}

// bundleFromToken converts an oauth2 token into the persisted bundle
// shape.  ExpiresIn is recomputed from Expiry when the raw field is
// absent so the 60s refresh margin always has something to work with.
func bundleFromToken(tok *oauth2.Token) model.TokenBundle {
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	scope, _ := tok.Extra("scope").(string)
	return model.TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		ExpiresIn:    expiresIn,
		ObtainedAt:   time.Now().UTC(),
	}
}

// Identity is the result of the "who am I" lookup.
type Identity struct {
	UserID string
	TeamID string
}

// Me resolves the external identity behind an access token.  A response
// without a user id yields ErrIdentityResolution.
func (c *Client) Me(ctx context.Context, accessToken string) (Identity, error) {
	var out struct {
		TeamUser struct {
			UserID string `json:"user_id"`
			TeamID string `json:"team_id"`
		} `json:"team_user"`
	}
	if err := c.getJSON(ctx, accessToken, "/rest/v1/users/me", &out); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}
	if out.TeamUser.UserID == "" {
		return Identity{}, ErrIdentityResolution
	}
	return Identity{UserID: out.TeamUser.UserID, TeamID: out.TeamUser.TeamID}, nil
}

// getJSON performs an authenticated GET against the REST API and decodes
// the JSON body into v.
func (c *Client) getJSON(ctx context.Context, accessToken, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
