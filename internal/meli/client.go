// Package meli implements the OAuth 2.0 + REST client for Mercado Livre.
// ML uses standard authorization-code flow with PKCE (S256) and rotating
// refresh tokens: every refresh invalidates the previous refresh token,
// which is why callers must serialize refreshes per integration.
package meli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultAPIBase  = "https://api.mercadolibre.com"
	defaultAuthBase = "https://auth.mercadolivre.com.br"

	tokenPath = "/oauth/token"
	mePath    = "/users/me"

	// defaultScopes is what the MercaFlow app requests: offline_access is
	// mandatory, without it ML does not issue a refresh token.
	defaultScopes = "read write offline_access"
)

// Client is the Mercado Livre OAuth 2.0 + API client.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// APIBase and AuthBase exist so tests can point at a local server.
	APIBase  string
	AuthBase string

	http     *http.Client
	validate *validator.Validate
}

// New creates a new ML client. Timeout bounds every outbound call,
// independent of the caller's own request deadline.
func New(clientID, clientSecret, redirectURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		APIBase:      defaultAPIBase,
		AuthBase:     defaultAuthBase,
		http:         &http.Client{Timeout: timeout},
		validate:     validator.New(),
	}
}

// AuthURL builds the authorization redirect with CSRF state and PKCE challenge.
func (c *Client) AuthURL(state, verifier string) string {
	u, _ := url.Parse(c.AuthBase + "/authorization")
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURL)
	q.Set("state", state)
	q.Set("code_challenge", Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	q.Set("scope", defaultScopes)
	u.RawQuery = q.Encode()
	return u.String()
}

// TokenResponse is ML's token endpoint response, validated at the trust
// boundary before anything downstream sees it.
type TokenResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	TokenType    string `json:"token_type" validate:"required"`
	ExpiresIn    int64  `json:"expires_in" validate:"required,gt=0"`
	Scope        string `json:"scope"`
	UserID       int64  `json:"user_id" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// errorBody is ML's error payload shape for non-2xx responses.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"error"`
	Status  int    `json:"status"`
}

// ExchangeCode exchanges an authorization code (+ PKCE verifier) for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURL)
	form.Set("code_verifier", verifier)

	tr, err := c.postToken(ctx, form)
	if err != nil {
		var api *APIError
		if errors.As(err, &api) && (api.StatusCode == http.StatusBadRequest || api.StatusCode == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s", ErrExchangeRejected, api.Message)
		}
		return nil, err
	}
	return tr, nil
}

// Refresh exchanges a refresh token for a new token pair. ML rotates the
// refresh token: the returned pair fully replaces the previous one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("refresh_token", refreshToken)

	tr, err := c.postToken(ctx, form)
	if err != nil {
		var api *APIError
		if errors.As(err, &api) && (api.StatusCode == http.StatusBadRequest || api.StatusCode == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, api.Message)
		}
		return nil, err
	}
	return tr, nil
}

// User is the seller profile from /users/me.
type User struct {
	ID        int64  `json:"id" validate:"required"`
	Nickname  string `json:"nickname" validate:"required"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	SiteID    string `json:"site_id"`
}

// GetMe fetches the connected seller's profile.
func (c *Client) GetMe(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+mePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("meli: decode user: %w", err)
	}
	if err := c.validate.Struct(&u); err != nil {
		return nil, fmt.Errorf("meli: invalid user payload: %w", err)
	}
	return &u, nil
}

// postToken POSTs the form to /oauth/token and validates the response.
func (c *Client) postToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapError(resp)
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("meli: decode token response: %w", err)
	}
	if err := c.validate.Struct(&tr); err != nil {
		return nil, fmt.Errorf("meli: invalid token response: %w", err)
	}
	return &tr, nil
}

// mapError converts a non-2xx ML response into the typed taxonomy.
// The body is read with a hard cap; ML error payloads are small.
func mapError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if eb.Message == "" {
		eb.Message = strings.TrimSpace(string(body))
	}
	if eb.Code == "" {
		eb.Code = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
