// Package main contains the entrypoint for the WardenBot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/wardenbot/internal/ai"
	"github.com/edgard/wardenbot/internal/bot"
	"github.com/edgard/wardenbot/internal/bot/handlers"
	"github.com/edgard/wardenbot/internal/bot/tasks"
	"github.com/edgard/wardenbot/internal/config"
	"github.com/edgard/wardenbot/internal/database"
	"github.com/edgard/wardenbot/internal/logger"
	"github.com/edgard/wardenbot/internal/moderation"
	"github.com/edgard/wardenbot/internal/pipeline"
	"github.com/edgard/wardenbot/internal/telegram"
	"github.com/edgard/wardenbot/internal/violation"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components and handles graceful
// shutdown, returning an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := ai.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	var authoritative moderation.Classifier
	if cfg.Moderation.ClassifierURL != "" {
		authoritative = moderation.NewHTTPClassifier(cfg.Moderation.ClassifierURL, cfg.Moderation.ClassifierTimeout)
	}
	gate := moderation.NewGate(
		moderation.NewKeywordClassifier(cfg.Moderation.Keywords),
		authoritative,
		cfg.Moderation.FailClosedOutbound,
		log,
	)

	engine := violation.NewEngine(store, log)
	pctx := pipeline.NewContext(cfg.Pipeline)

	// The default handler needs the pipeline service, which needs the bot's
	// transport; the indirection breaks the construction cycle. The variable
	// is assigned before the listener starts.
	var defaultHandler tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if defaultHandler != nil {
				defaultHandler(ctx, b, update)
			}
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	cfg.Telegram.BotInfo = config.BotInfo{ID: me.ID, Username: me.Username, FirstName: me.FirstName}
	aiClient.SetBotID(me.ID)
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	transport := telegram.NewTransport(tg, log)
	svc := pipeline.NewService(pctx, cfg, store, gate, engine, aiClient, transport, log)

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Pipeline: svc,
		Engine:   engine,
	}
	defaultHandler = handlers.NewMessageHandler(hDeps)

	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Pipeline: pctx,
		Config:   cfg,
	}
	sched := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	app := bot.NewBot(log, cfg, db, store, pctx, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
