package telegram

import "gopkg.in/telebot.v3"

// Client sends messages to a Telegram chat. Application code depends on this
// port rather than on *telebot.Bot.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
