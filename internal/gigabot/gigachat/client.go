package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/gigabot/common/redact"
	"github.com/bdobrica/gigabot/internal/gigabot/dialog"
)

const (
	defaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultModel   = "GigaChat-Max"
	defaultTimeout = 60 * time.Second

	// imgMarker flags a completion whose content embeds a retrievable image
	// reference instead of plain text.
	imgMarker = "<img"

	// imagePersona is the fixed system turn sent with every image request.
	imagePersona = "You're Wassily Kandinsky"

	// imagePromptSuffix is appended to the user's description to nudge the
	// model toward producing an image at full quality.
	imagePromptSuffix = ", please, generate in HD (the best) quality."
)

// ErrRetryAfterRefresh is the soft failure returned after any provider error:
// the access token has been refreshed and persisted, and the caller should ask
// the user to repeat the request. The original request is deliberately not
// retried here — the user's next input retries naturally with the new token,
// which avoids unbounded retry loops when the provider is down for reasons
// other than token expiry.
var ErrRetryAfterRefresh = errors.New("gigachat: credentials refreshed, repeat the request")

// Config configures the dispatcher.
type Config struct {
	// BaseURL is the provider API root. Defaults to the Sber production
	// endpoint when empty.
	BaseURL string

	// Model is the completion model. Defaults to GigaChat-Max.
	Model string

	// Temperature and TopP shape text completions.
	Temperature float64
	TopP        float64

	// Timeout bounds every provider call, including the image content fetch.
	// The provider can silently hang; a timed-out call takes the same
	// refresh-then-inform path as any other failure. Defaults to 60 s.
	Timeout time.Duration
}

// ImageResult is the polymorphic outcome of an image request: either raw
// image bytes fetched from the content endpoint, or the provider's plain-text
// reply when it declined to produce an image. Both are successes.
type ImageResult struct {
	Photo []byte
	Text  string
}

// IsPhoto reports whether the result carries image bytes.
func (r *ImageResult) IsPhoto() bool {
	return len(r.Photo) > 0
}

// Client dispatches text and image requests to the provider. It is stateless
// aside from reading the shared Credentials and is safe for concurrent use.
type Client struct {
	cfg    Config
	creds  *Credentials
	client *http.Client
}

// NewClient creates a dispatcher over the shared credential cache.
func NewClient(cfg Config, creds *Credentials) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}
	if cfg.TopP == 0 {
		cfg.TopP = 1.0
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		creds:  creds,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- provider wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type imageRequest struct {
	Model        string        `json:"model"`
	Messages     []chatMessage `json:"messages"`
	FunctionCall string        `json:"function_call"`
	Size         string        `json:"size"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// RequestText sends the full ordered context as the conversation history and
// returns the top completion's text. sessionID correlates the provider-side
// dialogue; the Telegram user id is used.
//
// Any failure triggers the refresh protocol and returns ErrRetryAfterRefresh.
func (c *Client) RequestText(ctx context.Context, turns []dialog.Turn, sessionID string) (string, error) {
	msgs := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}

	body := textRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	}

	token := c.creds.Token()
	content, err := c.completions(ctx, token, body, sessionID)
	if err != nil {
		return "", c.refreshAndInform(ctx, token, err)
	}
	return content, nil
}

// RequestImage sends the fixed two-turn painter request. When the completion
// embeds an image reference, the referenced content is fetched and returned
// as raw bytes; otherwise the completion text is returned verbatim.
//
// Any failure triggers the refresh protocol and returns ErrRetryAfterRefresh.
func (c *Client) RequestImage(ctx context.Context, prompt string) (*ImageResult, error) {
	body := imageRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: dialog.RoleSystem, Content: imagePersona},
			{Role: dialog.RoleUser, Content: prompt + imagePromptSuffix},
		},
		FunctionCall: "auto",
		Size:         "best",
	}

	token := c.creds.Token()
	content, err := c.completions(ctx, token, body, "")
	if err != nil {
		return nil, c.refreshAndInform(ctx, token, err)
	}

	if !strings.Contains(content, imgMarker) {
		// The model answered in prose — usually because the request was not
		// really asking for an image.
		slog.Info("gigachat: image request answered with text")
		return &ImageResult{Text: content}, nil
	}

	ref, err := extractFileRef(content)
	if err != nil {
		return nil, c.refreshAndInform(ctx, token, err)
	}

	photo, err := c.fetchFile(ctx, token, ref)
	if err != nil {
		return nil, c.refreshAndInform(ctx, token, err)
	}
	return &ImageResult{Photo: photo}, nil
}

// completions POSTs a chat-completion request and returns the top choice's
// content. Transport errors, non-2xx statuses, and malformed payloads are all
// returned as plain errors for the caller to feed into the refresh protocol.
func (c *Client) completions(ctx context.Context, token string, body any, sessionID string) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completions returned HTTP %d: %s",
			resp.StatusCode, redact.String(string(respBody), token))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response carries no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// fetchFile GETs raw image bytes from the content-retrieval endpoint.
func (c *Client) fetchFile(ctx context.Context, token, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/files/"+ref+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("create file request: %w", err)
	}
	req.Header.Set("Accept", "application/jpg")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file endpoint returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	return data, nil
}

// refreshAndInform runs the refresh-then-inform protocol: refresh and persist
// the token once, then hand the caller the soft-failure sentinel. The
// original request is not retried.
func (c *Client) refreshAndInform(ctx context.Context, staleToken string, cause error) error {
	slog.Warn("gigachat: request failed, refreshing access token",
		"err", redact.String(cause.Error(), staleToken))

	if _, err := c.creds.Refresh(ctx, staleToken); err != nil {
		slog.Error("gigachat: token refresh failed",
			"err", redact.String(err.Error(), staleToken))
	}
	return ErrRetryAfterRefresh
}

// extractFileRef pulls the file reference out of an image-bearing completion.
// The reference is the first quoted attribute value after the marker, e.g.
// `<img src="abc-123" .../>` yields "abc-123".
func extractFileRef(content string) (string, error) {
	idx := strings.Index(content, imgMarker)
	if idx < 0 {
		return "", fmt.Errorf("no image marker in content")
	}
	parts := strings.SplitN(content[idx:], `"`, 3)
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("image marker carries no file reference")
	}
	return parts[1], nil
}
