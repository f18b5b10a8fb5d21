package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"course_rewards/internal/app"
	"course_rewards/internal/domain/reward"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/reward_status", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/reward_status",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		studentID, courseID, ok := parsePair(c.Args())
		if !ok {
			return c.Send("Invalid command format. Use: /reward_status <studentID> <courseID>")
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID})

		rec, history, err := adminService.RewardStatus(ctx, c.Sender().ID, studentID, courseID)
		if err != nil {
			if errors.Is(err, reward.ErrNotAwarded) {
				return c.Send(fmt.Sprintf("Student %d has no reward for course %d yet.", studentID, courseID))
			}
			if rec == nil {
				handlerLogger.WithError(err).Error("Failed to get reward status")
				return c.Send(fmt.Sprintf("Failed to get reward status: %s", err.Error()))
			}
			handlerLogger.WithError(err).Warn("Reward history unavailable")
		}
		return c.Send(FormatRecord(rec) + FormatHistory(history))
	})

	b.Handle("/retry_award", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/retry_award",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		studentID, courseID, ok := parsePair(c.Args())
		if !ok {
			return c.Send("Invalid command format. Use: /retry_award <studentID> <courseID>")
		}
		return c.Send(retryAward(ctx, adminService, c.Sender().ID, studentID, courseID, handlerLogger))
	})

	b.Handle("/failed_awards", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/failed_awards",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		records, err := adminService.ListFailedAwards(ctx, c.Sender().ID)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list failed awards")
			return c.Send(fmt.Sprintf("Failed to list failed awards: %s", err.Error()))
		}
		if len(records) == 0 {
			return c.Send("No failed awards.")
		}

		handlerLogger.WithField("failed_count", len(records)).Info("Listed failed awards")
		var response strings.Builder
		response.WriteString("--- Failed awards ---\n")
		for _, rec := range records {
			response.WriteString(fmt.Sprintf("Student %d, course %d: %s, attempt %d, updated %s\n",
				rec.StudentID,
				rec.CourseID,
				rec.FailureKind,
				rec.Attempts,
				rec.UpdatedAt.Format("2006-01-02 15:04")))
		}
		return c.Send(response.String())
	})

	b.Handle("/chain_status", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/chain_status",
			"sender_id": c.Sender().ID,
		})
		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		studentID, courseID, ok := parsePair(c.Args())
		if !ok {
			return c.Send("Invalid command format. Use: /chain_status <studentID> <courseID>")
		}

		done, err := adminService.ChainStatus(ctx, c.Sender().ID, studentID, courseID)
		switch {
		case errors.Is(err, app.ErrChainDisabled):
			return c.Send("On-chain rewards are disabled (REWARD_MODE=off-chain-only).")
		case errors.Is(err, reward.ErrInvalidAddress):
			return c.Send(fmt.Sprintf("Student %d has no valid wallet address.", studentID))
		case err != nil:
			handlerLogger.WithError(err).Error("Failed to read chain status")
			return c.Send(fmt.Sprintf("Failed to read chain status: %s", err.Error()))
		}
		if done {
			return c.Send(fmt.Sprintf("On chain: course %d is recorded as completed for student %d.", courseID, studentID))
		}
		return c.Send(fmt.Sprintf("On chain: course %d is NOT recorded for student %d.", courseID, studentID))
	})
}

// retryAward is shared by /retry_award and the inline retry button.
func retryAward(ctx context.Context, adminService *app.AdminService, senderID, studentID, courseID int64, logger *logrus.Entry) string {
	logger = logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID})

	rec, err := adminService.RetryAward(ctx, senderID, studentID, courseID)
	if err != nil {
		logWithError := logger.WithError(err)
		switch {
		case errors.Is(err, app.ErrAdminNotAuthorized):
			logWithError.Warn("Admin not authorized (service level)")
			return unauthorizedReply
		case errors.Is(err, reward.ErrNotAwarded):
			return fmt.Sprintf("Student %d has no reward for course %d.", studentID, courseID)
		case errors.Is(err, reward.ErrRetryNotAllowed):
			if rec != nil {
				return fmt.Sprintf("Retry not allowed: reward is %s.", rec.Status)
			}
			return "Retry not allowed: only failed rewards can be retried."
		case errors.Is(err, reward.ErrInvalidAddress):
			return fmt.Sprintf("Retry failed again: student %d has no valid wallet address.", studentID)
		default:
			logWithError.Error("Failed to retry award")
			return fmt.Sprintf("Failed to retry award: %s", err.Error())
		}
	}

	logger.WithField("attempt", rec.Attempts).Info("Award retry started")
	return fmt.Sprintf("Retry started (attempt %d). Current status: %s.", rec.Attempts, rec.Status)
}

func parsePair(args []string) (studentID, courseID int64, ok bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	studentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	courseID, err = strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return studentID, courseID, true
}

func FormatRecord(rec *reward.Record) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Reward for student %d, course %d\n", rec.StudentID, rec.CourseID))
	b.WriteString(fmt.Sprintf("Status: %s\nAmount: %d\nAttempts: %d\n", rec.Status, rec.Amount, rec.Attempts))
	if rec.TxHash.Valid {
		b.WriteString(fmt.Sprintf("Tx: %s\n", rec.TxHash.String))
	}
	if rec.FailureKind != reward.FailureNone {
		b.WriteString(fmt.Sprintf("Failure: %s", rec.FailureKind))
		if rec.FailureReason.Valid {
			b.WriteString(" (" + rec.FailureReason.String + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func FormatHistory(history []reward.Transition) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nHistory:\n")
	for _, t := range history {
		from := string(t.From)
		if from == "" {
			from = "-"
		}
		b.WriteString(fmt.Sprintf("%s  %s -> %s", t.At.Format("2006-01-02 15:04:05"), from, t.To))
		if t.FailureKind != reward.FailureNone {
			b.WriteString(" [" + string(t.FailureKind) + "]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
