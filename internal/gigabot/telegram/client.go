package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/bdobrica/gigabot/common/retry"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultPollTimeout = 30 * time.Second
)

// Config holds Telegram client configuration
type Config struct {
	// Token is the bot token issued by BotFather. Required.
	Token string

	// BaseURL overrides the Bot API endpoint (used by tests and local Bot
	// API servers). Defaults to https://api.telegram.org.
	BaseURL string

	// PollTimeout is the long-poll duration passed to getUpdates.
	// Defaults to 30 s.
	PollTimeout time.Duration
}

// UpdateHandler processes one inbound update. Handlers are invoked on their
// own goroutine per update; per-user ordering is the handler's concern.
type UpdateHandler func(ctx context.Context, upd Update)

// Client wraps the Telegram Bot API.
type Client struct {
	cfg    Config
	client *http.Client
	stopCh chan struct{}
	offset int64
}

// New creates a new Telegram client
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Client{
		cfg: cfg,
		// The HTTP timeout must exceed the long-poll duration or every idle
		// poll would be cut short by the client.
		client: &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins long-polling for updates in the background. Each received
// update is dispatched to handler on its own goroutine.
func (c *Client) Start(ctx context.Context, handler UpdateHandler) {
	go func() {
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			var updates []Update
			err := retry.Do(ctx, retry.DefaultConfig, func() error {
				var pollErr error
				updates, pollErr = c.getUpdates(ctx)
				return pollErr
			})
			if err != nil {
				// Retries exhausted. Log and keep the loop alive; the next
				// iteration backs off again, so a long outage cannot kill
				// the bot.
				slog.Error("telegram: getUpdates failed, continuing", "err", err)
				select {
				case <-c.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(retry.DefaultConfig.MaxDelay):
				}
				continue
			}

			for _, upd := range updates {
				if upd.UpdateID >= c.offset {
					c.offset = upd.UpdateID + 1
				}
				go handler(ctx, upd)
			}
		}
	}()
}

// Stop stops the polling loop.
func (c *Client) Stop() {
	close(c.stopCh)
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

// call POSTs a JSON-encoded method call and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/bot"+c.cfg.Token+"/"+method, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(method, resp.Body, result)
}

// decodeAPIResponse unwraps the {ok, result, description} envelope.
func decodeAPIResponse(method string, body io.Reader, result any) error {
	var env apiResponse
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("telegram: %s rejected: %s", method, env.Description)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// getUpdates performs one long-poll for updates after the current offset.
func (c *Client) getUpdates(ctx context.Context) ([]Update, error) {
	payload := map[string]any{
		"offset":          c.offset,
		"timeout":         int(c.cfg.PollTimeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a Markdown-formatted text message, optionally with an
// inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// EditMessageText rewrites a previously sent message in place. Used to turn
// the main-menu message into the mode prompt when a button is pressed.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

// AnswerCallbackQuery acknowledges a button press so the client stops showing
// a progress spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// SendPhoto uploads raw image bytes as a photo message.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("telegram: sendPhoto chat_id field: %w", err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return fmt.Errorf("telegram: sendPhoto caption field: %w", err)
		}
	}
	part, err := mw.CreateFormFile("photo", "image.jpg")
	if err != nil {
		return fmt.Errorf("telegram: sendPhoto form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("telegram: sendPhoto write: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("telegram: sendPhoto finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/bot"+c.cfg.Token+"/sendPhoto", &buf)
	if err != nil {
		return fmt.Errorf("telegram: create sendPhoto request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendPhoto: %w", err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse("sendPhoto", resp.Body, nil)
}
