// Package strava is a stateless client for the Strava OAuth and activity APIs.
// It performs no retries; callers own the retry policy.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	shared "github.com/trailblazerplus/server/pkg"
	httputil "github.com/trailblazerplus/server/pkg/infrastructure/http"
	"github.com/trailblazerplus/server/pkg/infrastructure/metrics"
)

const (
	DefaultAuthURL        = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL       = "https://www.strava.com/oauth/token"
	DefaultDeauthorizeURL = "https://www.strava.com/oauth/deauthorize"
	DefaultAPIBaseURL     = "https://www.strava.com/api/v3"

	DefaultTimeout = 20 * time.Second
)

// DefaultScopes is requested when the caller does not name any.
var DefaultScopes = []string{"activity:read"}

// Config holds the application credentials and endpoints.
// Empty endpoints fall back to the production Strava URLs.
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	DeauthorizeURL string
	APIBaseURL     string
	Timeout        time.Duration
}

// Client talks to Strava.
type Client struct {
	oauth          *oauth2.Config
	deauthorizeURL string
	baseURL        string
	http           *http.Client
}

// NewClient creates a Strava client.
func NewClient(cfg Config) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.DeauthorizeURL == "" {
		cfg.DeauthorizeURL = DefaultDeauthorizeURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		deauthorizeURL: cfg.DeauthorizeURL,
		baseURL:        strings.TrimRight(cfg.APIBaseURL, "/"),
		http:           &http.Client{Timeout: cfg.Timeout},
	}
}

// AuthorizeURL builds the consent URL. Strava expects comma-separated scopes.
func (c *Client) AuthorizeURL(state, redirectURI string, scopes []string) string {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, ",")),
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
	}
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode trades an authorization code for tokens and the athlete profile.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenBundle, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, c.grantError("exchange", err)
	}
	metrics.RecordProviderRequest("exchange", http.StatusOK)
	return bundleFromToken(tok)
}

// RefreshToken runs the refresh_token grant.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.grantError("refresh", err)
	}
	metrics.RecordProviderRequest("refresh", http.StatusOK)
	return bundleFromToken(tok)
}

// RevokeToken deauthorizes the application for the token's athlete.
func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deauthorizeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordProviderRequest("deauthorize", 0)
		return httputil.TransportError(c.deauthorizeURL, err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderRequest("deauthorize", resp.StatusCode)
	return httputil.ParseErrorResponse(resp)
}

// FetchActivities returns one page of the athlete's activities.
func (c *Client) FetchActivities(ctx context.Context, accessToken string, params ListParams) ([]Activity, error) {
	q := url.Values{}
	if params.After > 0 {
		q.Set("after", strconv.FormatInt(params.After, 10))
	}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(params.PerPage))
	}

	var raw []json.RawMessage
	if err := c.get(ctx, "list_activities", accessToken, "/athlete/activities", q, &raw); err != nil {
		return nil, err
	}

	activities := make([]Activity, 0, len(raw))
	for _, r := range raw {
		a, err := decodeActivity(r)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, nil
}

// FetchActivity returns a single activity.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, id int64) (*Activity, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "get_activity", accessToken, fmt.Sprintf("/activities/%d", id), nil, &raw); err != nil {
		return nil, err
	}
	return decodeActivity(raw)
}

func (c *Client) get(ctx context.Context, op, accessToken, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(op, 0)
		return httputil.TransportError(u, err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderRequest(op, resp.StatusCode)
	if err := httputil.ParseErrorResponse(resp); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &shared.ProviderAPIError{StatusCode: resp.StatusCode, URL: c.baseURL + path}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// grantError lifts token endpoint failures into the error taxonomy.
func (c *Client) grantError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		metrics.RecordProviderRequest(op, status)
		body := string(re.Body)
		if len(body) > httputil.MaxErrorBodySize {
			body = body[:httputil.MaxErrorBodySize] + "..."
		}
		return &shared.ProviderAuthError{StatusCode: status, Body: body}
	}
	metrics.RecordProviderRequest(op, 0)
	return httputil.TransportError(c.oauth.Endpoint.TokenURL, err)
}

func bundleFromToken(tok *oauth2.Token) (*TokenBundle, error) {
	b := &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}

	// Strava returns an absolute expires_at; fall back to the expires_in derived expiry.
	switch v := tok.Extra("expires_at").(type) {
	case float64:
		b.ExpiresAt = int64(v)
	case json.Number:
		b.ExpiresAt, _ = v.Int64()
	}
	if b.ExpiresAt == 0 && !tok.Expiry.IsZero() {
		b.ExpiresAt = tok.Expiry.Unix()
	}

	if raw := tok.Extra("athlete"); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode athlete: %w", err)
		}
		var athlete Athlete
		if err := json.Unmarshal(data, &athlete); err != nil {
			return nil, fmt.Errorf("decode athlete: %w", err)
		}
		b.Athlete = &athlete
	}
	return b, nil
}

func decodeActivity(raw json.RawMessage) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	a.Raw = raw
	return &a, nil
}
