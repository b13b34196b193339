package telegram

// Client sends operator messages to a Telegram chat.
type Client interface {
	SendMessage(recipientChatID int64, text string) error
}
