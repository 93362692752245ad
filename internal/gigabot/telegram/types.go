// Package telegram provides the Telegram Bot API transport for GigaBot:
// a long-polling update loop and the outbound send operations the session
// controller needs. Only the small slice of the Bot API this bot uses is
// modelled.
package telegram

// Update is one inbound event from getUpdates. Exactly one of Message or
// CallbackQuery is set for the updates this bot subscribes to.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an inbound or referenced chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// User is the Telegram account that sent a message or pressed a button.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Chat identifies the conversation a message belongs to. For this bot every
// chat is a private chat, so the chat id equals the user id.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is an inline-button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// InlineKeyboardButton is one labelled button carrying callback data.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

// InlineKeyboardMarkup is the reply-markup envelope for inline keyboards.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// Button pairs a label with its callback data.
type Button struct {
	Label string
	Data  string
}

// Keyboard builds an inline keyboard with one button per row, preserving
// order.
func Keyboard(buttons ...Button) *InlineKeyboardMarkup {
	rows := make([][]InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineKeyboardButton{{Text: b.Label, CallbackData: b.Data}})
	}
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}
