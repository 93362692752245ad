// Package gigachat implements the GigaChat provider client: the shared
// credential cache with its refresh protocol, and the request dispatcher for
// text completions and image generation.
package gigachat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/gigabot/common/redact"
	"github.com/bdobrica/gigabot/internal/gigabot/config"
)

const (
	defaultOAuthURL     = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	defaultOAuthScope   = "GIGACHAT_API_PERS"
	defaultOAuthTimeout = 30 * time.Second
)

// CredentialsConfig configures the credential cache.
type CredentialsConfig struct {
	// AuthKey is the long-lived base64 authorization key used to mint access
	// tokens. Required.
	AuthKey string

	// InitialToken is the access token to start with, typically the last
	// persisted value. May be empty; the first request will then fail once
	// and trigger a refresh.
	InitialToken string

	// OAuthURL overrides the token endpoint. Defaults to the Sber production
	// endpoint when empty.
	OAuthURL string

	// Scope is the OAuth scope requested. Defaults to GIGACHAT_API_PERS.
	Scope string

	// Timeout bounds the token request. Defaults to 30 s.
	Timeout time.Duration
}

// Credentials is the process-wide access-token cache shared by all requests.
// One provider account services every user, so there is exactly one
// Credentials per process. It is safe for concurrent use.
type Credentials struct {
	cfg    CredentialsConfig
	client *http.Client
	store  config.Store

	mu    sync.Mutex // guards token and serializes refreshes
	token string
}

// NewCredentials creates the credential cache. The config store receives the
// refreshed token on every successful refresh so restarts reuse it.
func NewCredentials(cfg CredentialsConfig, store config.Store) *Credentials {
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = defaultOAuthURL
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultOAuthScope
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOAuthTimeout
	}
	c := &Credentials{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		store:  store,
		token:  cfg.InitialToken,
	}
	return c
}

// Token returns the current cached access token without blocking on an
// in-progress refresh longer than it takes to read the value.
func (c *Credentials) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// oauthResponse is the token endpoint payload.
type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Refresh mints a new access token and persists it, unless another caller
// already replaced the stale token — concurrent failures racing on the same
// expired token result in a single refresh-and-persist.
//
// stale is the token the caller's failed request used. When the cached token
// no longer matches it, the refresh already happened and the current token is
// returned without another OAuth call.
func (c *Credentials) Refresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != stale && c.token != "" {
		return c.token, nil
	}

	token, err := c.mint(ctx)
	if err != nil {
		return "", err
	}

	// Persist before swapping in so a crash between the two leaves the old
	// (still-stale) token in the store rather than an unpersisted new one.
	if err := c.store.Set(ctx, config.KeyAccessToken, token); err != nil {
		slog.Warn("gigachat: failed to persist refreshed token",
			"err", redact.String(err.Error(), token, c.cfg.AuthKey))
	}

	c.token = token
	slog.Info("gigachat: access token refreshed")
	return token, nil
}

// mint performs the OAuth call with the long-lived authorization key.
func (c *Credentials) mint(ctx context.Context) (string, error) {
	body := "scope=" + c.cfg.Scope

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OAuthURL, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gigachat: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.New().String())
	req.Header.Set("Authorization", "Basic "+c.cfg.AuthKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gigachat: token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gigachat: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gigachat: token endpoint returned HTTP %d: %s",
			resp.StatusCode, redact.String(string(respBody), c.cfg.AuthKey))
	}

	var parsed oauthResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("gigachat: decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("gigachat: token response carries no access_token")
	}
	return parsed.AccessToken, nil
}
