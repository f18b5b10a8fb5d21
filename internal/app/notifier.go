package app

import (
	"context"
	"fmt"
	"strconv"

	"course_rewards/internal/domain/reward"
	"course_rewards/internal/domain/student"
	domainTelegram "course_rewards/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Notifier is told about every settled reward (credited, confirmed or failed).
// Implementations must not fail the caller; delivery problems are logged.
type Notifier interface {
	RewardSettled(ctx context.Context, rec *reward.Record)
}

type NopNotifier struct{}

func (NopNotifier) RewardSettled(context.Context, *reward.Record) {}

// TelegramNotifier alerts the admin about failed rewards and tells students
// with a linked Telegram account that their tokens arrived.
type TelegramNotifier struct {
	client          domainTelegram.Client
	students        student.Repository
	adminTelegramID int64
	logger          *logrus.Entry
}

func NewTelegramNotifier(tc domainTelegram.Client, sr student.Repository, adminID int64, logger *logrus.Entry) *TelegramNotifier {
	return &TelegramNotifier{
		client:          tc,
		students:        sr,
		adminTelegramID: adminID,
		logger:          logger.WithField("component", "telegram_notifier"),
	}
}

func (n *TelegramNotifier) RewardSettled(ctx context.Context, rec *reward.Record) {
	log := n.logger.WithFields(logrus.Fields{
		"student_id": rec.StudentID,
		"course_id":  rec.CourseID,
		"status":     rec.Status,
	})

	switch rec.Status {
	case reward.StatusFailed:
		if n.adminTelegramID == 0 {
			log.Warn("Admin Telegram ID not configured, cannot report failed reward")
			return
		}
		if err := n.client.SendMessage(n.adminTelegramID, FormatFailureAlert(rec), failureAlertOptions(rec)); err != nil {
			log.WithError(err).Error("Failed to send failed-reward alert to admin")
		}

	case reward.StatusOffChainCredited, reward.StatusOnChainConfirmed:
		s, err := n.students.GetByID(ctx, rec.StudentID)
		if err != nil {
			log.WithError(err).Warn("Could not load student for reward notification")
			return
		}
		if !s.TelegramID.Valid {
			return
		}
		text := fmt.Sprintf("Congratulations, %s! You earned %d tokens for completing course #%d.", s.DisplayName, rec.Amount, rec.CourseID)
		if rec.Status == reward.StatusOnChainConfirmed && rec.TxHash.Valid {
			text += "\nTransaction: " + rec.TxHash.String
		}
		if err := n.client.SendMessage(s.TelegramID.Int64, text, &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
			log.WithError(err).Warn("Failed to notify student about reward")
		}
	}
}

// RetryAwardCallback is the inline button identifier of the admin retry
// button; its data is "<studentID>|<courseID>".
const RetryAwardCallback = "retry_award"

func failureAlertOptions(rec *reward.Record) *telebot.SendOptions {
	if rec.FailureKind == reward.FailureInvalidAddress {
		return nil
	}
	replyMarkup := &telebot.ReplyMarkup{}
	btnRetry := replyMarkup.Data("Retry award", RetryAwardCallback,
		strconv.FormatInt(rec.StudentID, 10), strconv.FormatInt(rec.CourseID, 10))
	replyMarkup.Inline(replyMarkup.Row(btnRetry))
	return &telebot.SendOptions{ReplyMarkup: replyMarkup}
}

// FormatFailureAlert renders the admin message for a FAILED record.
func FormatFailureAlert(rec *reward.Record) string {
	msg := fmt.Sprintf("Reward for student %d, course %d failed (%s, attempt %d).",
		rec.StudentID, rec.CourseID, rec.FailureKind, rec.Attempts)
	if rec.FailureReason.Valid {
		msg += "\nReason: " + rec.FailureReason.String
	}
	if rec.FailureKind != reward.FailureInvalidAddress {
		msg += fmt.Sprintf("\nRetry with /retry_award %d %d", rec.StudentID, rec.CourseID)
	} else {
		msg += "\nThe student must link a wallet before the reward can be retried."
	}
	return msg
}
