package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course_rewards/internal/app"
	"course_rewards/internal/infra/config"
	idb "course_rewards/internal/infra/database"
	"course_rewards/internal/infra/ethereum"
	"course_rewards/internal/infra/httpapi"
	"course_rewards/internal/infra/lock"
	"course_rewards/internal/infra/logger"
	"course_rewards/internal/infra/scheduler"
	"course_rewards/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const shutdownTimeout = 30 * time.Second

func main() {
	fmt.Println("Course reward service starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	appLogger := logrus.NewEntry(logger.Get())
	mainLogger.WithField("reward_mode", cfg.RewardMode).WithField("environment", cfg.Environment).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.Connect(ctx, cfg.DatabaseURL, logger.Component("database"))
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database schema")
	}
	mainLogger.Info("Database connection established successfully.")

	// Initialize Repositories
	studentRepo := idb.NewPostgresStudentRepository(db)
	courseRepo := idb.NewPostgresCourseRepository(db)
	enrollmentRepo := idb.NewPostgresEnrollmentRepository(db)
	rewardRepo := idb.NewPostgresRewardRepository(db)

	var locker app.PairLocker = lock.NewKeyedMutex()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL, cfg.PairLockTTL, logger.Component("lock"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to Redis")
		}
		defer redisLocker.Close()
		locker = redisLocker
		mainLogger.Info("Using Redis pair locks.")
	}

	// Telegram bot is optional; without it notifications are dropped.
	var bot *telebot.Bot
	var notifier app.Notifier = app.NopNotifier{}
	if cfg.TelegramEnabled() {
		bot, err = telegram.NewBot(cfg.TelegramToken, logger.Component("telebot"))
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		notifier = app.NewTelegramNotifier(telegram.NewTelebotAdapter(bot), studentRepo, cfg.AdminTelegramID, appLogger)
	}

	var session *ethereum.Session
	var reconciler *app.ChainReconciler
	if cfg.OnChain() {
		wallet, err := ethereum.NewKeyWallet(cfg.AwarderPrivateKey)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not load awarder wallet")
		}
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		session, err = ethereum.Dial(dialCtx, ethereum.Config{
			RPCURL:          cfg.EthRPCURL,
			ContractAddress: cfg.TokenContractAddress,
			ChainID:         cfg.ChainID,
			Confirmations:   cfg.ChainConfirmations,
			PollInterval:    cfg.ChainPollInterval,
		}, wallet, logger.Component("ethereum"))
		cancel()
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to token contract")
		}
		defer session.Close()
		reconciler = app.NewChainReconciler(rewardRepo, studentRepo, session, notifier, cfg.ChainConfirmTimeout, appLogger)
	}

	ledger := app.NewRewardLedger(rewardRepo, courseRepo, reconciler, locker, notifier, cfg.RewardMode, appLogger)
	tracker := app.NewEnrollmentTracker(enrollmentRepo, courseRepo, studentRepo, appLogger)
	completionService := app.NewCompletionService(tracker, ledger, appLogger)
	adminService := app.NewAdminService(ledger, reconciler, cfg.AdminTelegramID)

	// Initialize ReconciliationScheduler
	var sweeper scheduler.Sweeper
	var chainAPI httpapi.ChainAPI
	if reconciler != nil {
		sweeper = reconciler
		chainAPI = reconciler
	}
	reconcileScheduler := scheduler.NewReconciliationScheduler(
		completionService,
		sweeper,
		ledger,
		logger.Component("scheduler"),
		cfg.CronSpecReconcile,
		cfg.ReconcileStaleAfter,
		cfg.ReconcileBatchSize,
	)
	if err := reconcileScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reconciliation scheduler")
	}

	if bot != nil {
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.AdminTelegramID, botLogger)
		telegram.RegisterRetryCallbackHandlers(ctx, bot, adminService, botLogger)
		go bot.Start()
		mainLogger.Info("Telegram bot started.")
	}

	server := httpapi.NewApp(httpapi.NewHandler(completionService, ledger, chainAPI, appLogger), logger.Component("http"))
	serverErr := make(chan error, 1)
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		serverErr <- server.Listen(cfg.HTTPAddr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			mainLogger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}

	mainLogger.Info("Shutting down application...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if bot != nil {
		bot.Stop()
	}
	reconcileScheduler.Stop()
	if reconciler != nil {
		if err := reconciler.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			mainLogger.WithError(err).Warn("Reconciler shutdown failed")
		} else if err != nil {
			mainLogger.Warn("Background chain tasks still running at shutdown; the next sweep will resume them")
		}
	}
	mainLogger.Info("Application shut down gracefully.")
}
