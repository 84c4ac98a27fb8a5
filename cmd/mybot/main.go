package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mybot/internal/config"
	"mybot/internal/engine"
	"mybot/internal/engine/claude"
	"mybot/internal/engine/codex"
	"mybot/internal/engine/opencode"
	"mybot/internal/engine/pi"
	"mybot/internal/lockfile"
	"mybot/internal/orchestrator"
	"mybot/internal/runner"
	"mybot/internal/statestore"
	"mybot/internal/telegram"
	"mybot/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := telemetry.New(os.Stderr, slog.LevelInfo)

	_ = config.LoadDotEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("startup.config_failed", "err", err)
		return 1
	}

	projects, err := config.LoadProjects(cfg.ProjectsFile)
	if err != nil {
		logger.Error("startup.projects_failed", "err", err)
		return 1
	}

	lock, err := lockfile.Acquire(cfg.LockPath, lockfile.TokenFingerprint(cfg.TelegramToken))
	if err != nil {
		logger.Error("startup.lock_failed", "err", err)
		return 1
	}
	defer lock.Release()

	translators := engine.NewTranslatorRegistry()
	translators.Register(codex.New())
	translators.Register(claude.New())
	translators.Register(opencode.New())
	translators.Register(pi.New())

	runners := make(orchestrator.SimpleRunners)
	for id, ec := range cfg.Engines {
		t, ok := translators.Get(id)
		if !ok {
			continue
		}
		runners[id] = runner.New(runner.Options{
			EngineID:    id,
			CmdPath:     ec.Cmd,
			GlobalArgs:  ec.Args,
			WorkDir:     cfg.WorkDir,
			LogDir:      cfg.LogDir,
			Translator:  t,
			Interactive: ec.Interactive,
		})
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Error("startup.telegram_auth_failed", "err", err)
		return 1
	}
	bot.Debug = false

	outbox := telegram.NewOutbox(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go outbox.Run(ctx)

	client := telegram.NewClient(bot, outbox)
	presenter := telegram.NewPresenter(translators.ResumeRegistry().Syntax, cfg.ShowResumeLine, cfg.MaxChunkBytes)
	locks := runner.NewLockRegistry()
	scheduler := telegram.NewThreadScheduler()

	orch := orchestrator.New(runners, presenter, client, locks, scheduler, logger, cfg.FlushInterval)

	topics := statestore.NewTopicStateStore(filepath.Join(cfg.LogDir, "telegram_topics_state.json"), logger)
	chatSessions := statestore.NewChatSessionStore(filepath.Join(cfg.LogDir, "telegram_chat_sessions_state.json"), logger)
	schedules := telegram.NewScheduleStore(cfg)

	deps := telegram.Deps{
		Cfg:          cfg,
		Projects:     projects,
		Orchestrator: orch,
		Client:       client,
		Resume:       translators.ResumeRegistry(),
		Topics:       topics,
		ChatSessions: chatSessions,
		Scheduler:    scheduler,
		Schedules:    schedules,
		Logger:       logger,
	}

	if err := telegram.Run(ctx, bot, deps); err != nil {
		msg := err.Error()
		if cfg.TelegramToken != "" {
			msg = strings.ReplaceAll(msg, cfg.TelegramToken, "<redacted>")
		}
		logger.Error("telegram.run_failed", "err", msg)
		return 1
	}

	if ctx.Err() != nil {
		return 130
	}
	return 0
}
