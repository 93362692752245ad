package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bdobrica/gigabot/common/trace"
	"github.com/bdobrica/gigabot/internal/gigabot/dialog"
	"github.com/bdobrica/gigabot/internal/gigabot/gigachat"
	"github.com/bdobrica/gigabot/internal/gigabot/store"
	"github.com/bdobrica/gigabot/internal/gigabot/telegram"
)

// Callback data carried by the inline menu buttons.
const (
	callbackStartChat = "start_chat_dialog_ai"
	callbackStartImg  = "start_image_ai"
	callbackBackMain  = "back_on_main"
)

// DefaultStopToken ends a text dialogue. Matched case-insensitively.
const DefaultStopToken = "/stop"

// Sender is the outbound slice of the Telegram transport the controller
// needs. *telegram.Client satisfies it; tests substitute a recorder.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
}

// Dispatcher sends normalized requests to the AI provider. *gigachat.Client
// satisfies it.
type Dispatcher interface {
	RequestText(ctx context.Context, turns []dialog.Turn, sessionID string) (string, error)
	RequestImage(ctx context.Context, prompt string) (*gigachat.ImageResult, error)
}

// UserStore is the slice of the persistence layer the controller touches
// directly: the usage counter. Conversation windows go through
// dialog.ContextStore instead.
type UserStore interface {
	IncrementQueries(ctx context.Context, p store.Profile, by int) error
	QueryCount(ctx context.Context, telegramID int64) (int, error)
}

// ControllerConfig tunes the state machine.
type ControllerConfig struct {
	// StopToken ends a text dialogue, matched case-insensitively.
	// Defaults to /stop.
	StopToken string

	// ClearContextOnStop wipes the stored conversation window when the user
	// stops a dialogue. Off by default: history is preserved across
	// stop/resume so a returning user continues where they left off.
	ClearContextOnStop bool
}

// Controller drives the per-user conversation state machine. One instance
// serves all users; per-user serialization comes from the Manager.
type Controller struct {
	cfg        ControllerConfig
	sender     Sender
	dispatcher Dispatcher
	contexts   dialog.ContextStore
	users      UserStore
	states     *Manager
	limiter    *RateLimiter
}

// NewController wires the state machine to its collaborators.
func NewController(cfg ControllerConfig, sender Sender, dispatcher Dispatcher,
	contexts dialog.ContextStore, users UserStore, limiter *RateLimiter) *Controller {
	if cfg.StopToken == "" {
		cfg.StopToken = DefaultStopToken
	}
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Controller{
		cfg:        cfg,
		sender:     sender,
		dispatcher: dispatcher,
		contexts:   contexts,
		users:      users,
		states:     NewManager(),
		limiter:    limiter,
	}
}

// HandleUpdate is the entry point for one inbound update. It is safe to call
// concurrently; work for the same user is serialized internally.
func (c *Controller) HandleUpdate(ctx context.Context, upd telegram.Update) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	switch {
	case upd.CallbackQuery != nil:
		c.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil && upd.Message.Text != "":
		c.handleMessage(ctx, upd.Message)
	}
}

// handleMessage routes a plain-text message through the state machine.
func (c *Controller) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	c.states.Do(userID, func() {
		switch text {
		case "/start", "/main":
			c.states.SetState(userID, Idle)
			c.sendMainMenu(ctx, msg.From)
			return
		case "/stats":
			c.sendStats(ctx, userID)
			return
		}

		switch c.states.State(userID) {
		case AwaitingTextQuery:
			if strings.EqualFold(text, c.cfg.StopToken) {
				c.stopDialogue(ctx, userID)
				return
			}
			c.runTextTurn(ctx, msg.From, text)
		case AwaitingImageQuery:
			c.runImageTurn(ctx, msg.From, text)
		default:
			// Free text with no mode armed is not a transition; just show
			// the menu again.
			c.sendMainMenu(ctx, msg.From)
		}
	})
}

// handleCallback reacts to an inline-button press by rewriting the menu
// message in place and arming the chosen mode.
func (c *Controller) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.From == nil {
		return
	}
	if err := c.sender.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		slog.Warn("session: answer callback failed",
			"trace_id", trace.FromContext(ctx), "err", err)
	}

	userID := cb.From.ID
	c.states.Do(userID, func() {
		switch cb.Data {
		case callbackStartChat:
			c.states.SetState(userID, AwaitingTextQuery)
			c.rewriteOrSend(ctx, userID, cb.Message,
				fmt.Sprintf("You're now chatting with the AI 🧠. Send your question as a plain message.\nSend %s when you want to finish the dialogue.", c.cfg.StopToken),
				nil)
		case callbackStartImg:
			c.states.SetState(userID, AwaitingImageQuery)
			c.rewriteOrSend(ctx, userID, cb.Message,
				"Describe the image 🖼 you want me to paint, in one message.", nil)
		case callbackBackMain:
			c.states.SetState(userID, Idle)
			c.rewriteOrSend(ctx, userID, cb.Message,
				mainMenuText(cb.From.FirstName), mainMenuKeyboard())
		default:
			slog.Warn("session: unknown callback data",
				"trace_id", trace.FromContext(ctx), "data", cb.Data)
		}
	})
}

// runTextTurn is the AwaitingTextQuery self-loop body. The state stays armed
// on every outcome so the user can simply send the next message.
func (c *Controller) runTextTurn(ctx context.Context, from *telegram.User, text string) {
	userID := from.ID
	if !c.limiter.Allow(userID) {
		c.send(ctx, userID, "You're sending requests too fast ✋. Please wait a minute and try again.", nil)
		return
	}

	if err := c.users.IncrementQueries(ctx, profileOf(from), 1); err != nil {
		slog.Error("session: counter increment failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.sendStorageFailure(ctx, userID)
		return
	}

	w, err := c.contexts.Get(ctx, userID)
	if err != nil {
		slog.Error("session: context read failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.sendStorageFailure(ctx, userID)
		return
	}

	w.Append(dialog.RoleUser, text)
	if err := c.contexts.Put(ctx, userID, w); err != nil {
		slog.Error("session: context write failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.sendStorageFailure(ctx, userID)
		return
	}

	reply, err := c.dispatcher.RequestText(ctx, w.Turns(), strconv.FormatInt(userID, 10))
	if err != nil {
		// Provider failure, including the post-refresh soft failure: no
		// assistant turn is recorded and the state stays armed, so the
		// user's next message retries naturally.
		slog.Warn("session: text request failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.send(ctx, userID, "Something went wrong on the AI side 😔. Please repeat your request.", nil)
		return
	}

	c.send(ctx, userID, reply, nil)

	w.Append(dialog.RoleAssistant, reply)
	if err := c.contexts.Put(ctx, userID, w); err != nil {
		// The user already has the answer; losing the assistant turn only
		// degrades the next completion's context.
		slog.Error("session: assistant turn write failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
	}
}

// runImageTurn is the one-shot image flow; the user drops back to Idle no
// matter how the attempt ends.
func (c *Controller) runImageTurn(ctx context.Context, from *telegram.User, prompt string) {
	userID := from.ID
	defer c.states.SetState(userID, Idle)

	if !c.limiter.Allow(userID) {
		c.send(ctx, userID, "You're sending requests too fast ✋. Please wait a minute and try again.", nil)
		return
	}

	if err := c.users.IncrementQueries(ctx, profileOf(from), 1); err != nil {
		slog.Error("session: counter increment failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.sendStorageFailure(ctx, userID)
		return
	}

	res, err := c.dispatcher.RequestImage(ctx, prompt)
	if err != nil {
		slog.Warn("session: image request failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.send(ctx, userID, "Something went wrong on the AI side 😔. Please repeat your request.", mainMenuKeyboard())
		return
	}

	if res.IsPhoto() {
		if err := c.sender.SendPhoto(ctx, userID, res.Photo, ""); err != nil {
			slog.Error("session: send photo failed",
				"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		}
		return
	}
	// The model declined to paint and answered in prose instead.
	c.send(ctx, userID, res.Text, nil)
}

// stopDialogue ends a text dialogue and drops back to Idle.
func (c *Controller) stopDialogue(ctx context.Context, userID int64) {
	c.states.SetState(userID, Idle)

	if c.cfg.ClearContextOnStop {
		if err := c.contexts.Clear(ctx, userID); err != nil {
			slog.Error("session: clear context failed",
				"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		}
	}

	text := "Dialogue finished 👋. Your history is kept, so you can pick up where you left off."
	if c.cfg.ClearContextOnStop {
		text = "Dialogue finished 👋. Your history has been cleared."
	}
	c.send(ctx, userID, text, telegram.Keyboard(
		telegram.Button{Label: "🌐 Main", Data: callbackBackMain},
	))
}

func (c *Controller) sendMainMenu(ctx context.Context, from *telegram.User) {
	c.send(ctx, from.ID, mainMenuText(from.FirstName), mainMenuKeyboard())
}

func (c *Controller) sendStats(ctx context.Context, userID int64) {
	count, err := c.users.QueryCount(ctx, userID)
	if err != nil {
		slog.Error("session: query count failed",
			"trace_id", trace.FromContext(ctx), "user_id", userID, "err", err)
		c.sendStorageFailure(ctx, userID)
		return
	}
	c.send(ctx, userID, fmt.Sprintf("You have made *%d* AI queries so far 📊.", count), nil)
}

func (c *Controller) sendStorageFailure(ctx context.Context, userID int64) {
	c.send(ctx, userID, "I could not process that right now 😔. Please try again.", nil)
}

// send is SendMessage with failure logging; outbound delivery problems never
// crash a turn.
func (c *Controller) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if err := c.sender.SendMessage(ctx, chatID, text, markup); err != nil {
		slog.Error("session: send message failed",
			"trace_id", trace.FromContext(ctx), "chat_id", chatID, "err", err)
	}
}

// rewriteOrSend edits the menu message a button press came from, falling back
// to a fresh message when the original is unavailable.
func (c *Controller) rewriteOrSend(ctx context.Context, userID int64, origin *telegram.Message, text string, markup *telegram.InlineKeyboardMarkup) {
	if origin != nil {
		err := c.sender.EditMessageText(ctx, origin.Chat.ID, origin.MessageID, text, markup)
		if err == nil {
			return
		}
		slog.Warn("session: edit message failed, sending fresh",
			"trace_id", trace.FromContext(ctx), "err", err)
	}
	c.send(ctx, userID, text, markup)
}

func profileOf(u *telegram.User) store.Profile {
	return store.Profile{
		TelegramID: u.ID,
		Username:   u.Username,
		Firstname:  u.FirstName,
		Lastname:   u.LastName,
	}
}

func mainMenuText(firstName string) string {
	if firstName == "" {
		firstName = "friend"
	}
	return fmt.Sprintf("Hello 👀!\n*%s*, to start either AI model 🧠 - click on the corresponding button below.", firstName)
}

func mainMenuKeyboard() *telegram.InlineKeyboardMarkup {
	return telegram.Keyboard(
		telegram.Button{Label: "Start Chat Dialog with AI", Data: callbackStartChat},
		telegram.Button{Label: "Generate Image 🖼", Data: callbackStartImg},
	)
}
