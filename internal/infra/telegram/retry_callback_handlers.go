package telegram

import (
	"context"

	"course_rewards/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterRetryCallbackHandlers handles the "Retry award" button attached to
// failed-reward alerts.
func RegisterRetryCallbackHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle(&telebot.Btn{Unique: app.RetryAwardCallback}, retryCallbackHandler(ctx, adminService, baseLogger))
}

func retryCallbackHandler(ctx context.Context, adminService *app.AdminService, baseLogger *logrus.Entry) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   app.RetryAwardCallback,
			"sender_id": c.Sender().ID,
		})

		studentID, courseID, ok := parsePair(c.Args()) // data is "<studentID>|<courseID>"
		if !ok {
			handlerLogger.WithField("data", c.Data()).Warn("Invalid retry button data")
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid button data."})
		}

		text := retryAward(ctx, adminService, c.Sender().ID, studentID, courseID, handlerLogger)
		if err := c.Respond(&telebot.CallbackResponse{Text: "Processing retry..."}); err != nil {
			handlerLogger.WithError(err).Warn("Failed to answer callback")
		}
		return c.Send(text)
	}
}
