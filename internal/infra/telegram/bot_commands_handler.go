package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b *telebot.Bot,
	adminTelegramID int64,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send("Hello, " + c.Sender().FirstName + "! Reward operations are ready. Use /help to list commands.")
		}

		logCtx.Info("User is not the admin")
		return c.Send("Hello! This bot tells you when you earn tokens for completing a course. Link your Telegram account in your profile to receive notifications.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			return c.Send("You will get a message here whenever tokens are credited for a completed course.")
		}

		var helpText strings.Builder
		helpText.WriteString("Admin commands:\n\n")
		helpText.WriteString("`/reward_status <studentID> <courseID>`\n - Show the reward record and its history.\n\n")
		helpText.WriteString("`/retry_award <studentID> <courseID>`\n - Retry a FAILED reward.\n\n")
		helpText.WriteString("`/failed_awards`\n - List failed rewards, oldest first.\n\n")
		helpText.WriteString("`/chain_status <studentID> <courseID>`\n - Read the award flag from the token contract.\n\n")
		helpText.WriteString("`/help`\n - Show this message.")
		return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
