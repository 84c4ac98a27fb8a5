package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mybot/internal/config"
	"mybot/internal/engine"
	"mybot/internal/model"
	"mybot/internal/orchestrator"
	"mybot/internal/statestore"
)

// Deps bundles everything the long-poll loop, command handlers, and the
// daily scheduler need, wired once in cmd/mybot/main.go. Replaces the
// teacher's single *core.SessionManager parameter now that one chat can
// drive many engines and many forum-topic threads concurrently.
type Deps struct {
	Cfg          config.Config
	Projects     config.Projects
	Orchestrator *orchestrator.Orchestrator
	Client       *Client
	Resume       *engine.Registry
	Topics       *statestore.TopicStateStore
	ChatSessions *statestore.ChatSessionStore
	Scheduler    *ThreadScheduler
	Schedules    *ScheduleStore
	Logger       *slog.Logger
}

func Run(ctx context.Context, bot *tgbotapi.BotAPI, deps Deps) error {
	setBotMenuCommands(bot)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	deps.Logger.Info("telegram.started", "username", bot.Self.UserName)

	go RunScheduler(ctx, deps)

	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-updates:
			if up.Message == nil {
				continue
			}
			chatID := up.Message.Chat.ID
			if _, ok := deps.Cfg.Allowlist[chatID]; !ok {
				if deps.Cfg.LogUnknown {
					deps.Logger.Info("telegram.ignored", "chat_id", chatID, "user", userLabel(up.Message), "text", up.Message.Text)
				}
				continue
			}
			ownerID := int64(0)
			if up.Message.From != nil {
				ownerID = up.Message.From.ID
			}
			handleMessage(ctx, deps, up.Message, ownerID)
		}
	}
}

func setBotMenuCommands(bot *tgbotapi.BotAPI) {
	cmds := []tgbotapi.BotCommand{
		{Command: "new", Description: "新会话（清空并重新开始）"},
		{Command: "status", Description: "查看当前会话状态"},
		{Command: "cancel", Description: "中断当前任务"},
		{Command: "engine", Description: "切换引擎：/engine codex|claude|opencode|pi"},
		{Command: "project", Description: "切换项目：/project <alias>"},
		{Command: "schedule", Description: "定时任务：/schedule ls|add|rm|on|off|run"},
		{Command: "help", Description: "帮助与用法"},
	}
	_, err := bot.Request(tgbotapi.NewSetMyCommands(cmds...))
	if err != nil {
		slog.Default().Warn("telegram.set_commands_failed", "err", err)
	}
}

func userLabel(m *tgbotapi.Message) string {
	if m.From == nil {
		return ""
	}
	u := m.From
	if u.UserName != "" {
		return "@" + u.UserName
	}
	if u.FirstName != "" || u.LastName != "" {
		return strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return fmt.Sprintf("%d", u.ID)
}

// isolatedByOwner reports whether session/engine state for this chat must be
// split per sender instead of shared by the whole chat: a plain group or
// supergroup chat outside any forum topic has no thread_id to key on, so two
// members talking to the bot would otherwise collide onto the same resume
// token. Forum topics (threadID != 0) and private DMs (chatID > 0, one
// sender by definition) stay on the shared TopicStateStore.
func isolatedByOwner(chatID int64, threadID int) bool {
	return chatID < 0 && threadID == 0
}

func handleMessage(ctx context.Context, deps Deps, msg *tgbotapi.Message, ownerID int64) {
	chatID := msg.Chat.ID
	threadID := msg.MessageThreadID

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)

		// "/<engineID> <prompt>" overrides the engine for this message
		// only — distinct from the persistent "/engine <id>" command below.
		// Grounded on original_source's resolve_message/parse_directives,
		// which strips this as a per-message directive rather than writing
		// it back to session state.
		if engineID, ok := engineDirective(deps, cmd[0]); ok {
			prompt := strings.TrimSpace(strings.TrimPrefix(text, cmd[0]))
			if prompt == "" {
				replyText(deps, chatID, threadID, fmt.Sprintf("usage: /%s <prompt>", engineID))
				return
			}
			dispatchRun(ctx, deps, chatID, threadID, ownerID, msg.MessageID, prompt, true, engineID)
			return
		}

		switch cmd[0] {
		case "/new":
			if err := clearSessions(deps, chatID, threadID, ownerID); err != nil {
				deps.Logger.Warn("telegram.clear_sessions_failed", "err", err)
			}
			replyText(deps, chatID, threadID, "session cleared")
			return
		case "/cancel":
			handleCancel(deps, chatID, threadID)
			return
		case "/status":
			handleStatus(deps, chatID, threadID)
			return
		case "/engine":
			handleEngineCmd(deps, chatID, threadID, ownerID, cmd)
			return
		case "/project":
			handleProjectCmd(deps, chatID, threadID, cmd)
			return
		case "/help":
			replyText(deps, chatID, threadID,
				"/new /cancel /status\n/engine codex|claude|opencode|pi\n/project <alias>\n"+
					"/schedule ls|add HH:MM <prompt>|rm <id>|on|off|run\n\n"+
					"回复一条正在运行的消息并发送 /cancel 也可以中断它\n"+
					"自然语言示例：每天上午9点获取最新AI资讯发送给我")
			return
		case "/schedule":
			handleScheduleCmd(ctx, deps, chatID, cmd)
			return
		default:
			replyText(deps, chatID, threadID, "unknown command; try /help")
			return
		}
	}

	if ts, ok := parseDailySchedules(text); ok {
		prompt := ts[0].Prompt
		if strings.Contains(strings.ToLower(prompt), "ai") && (strings.Contains(prompt, "资讯") || strings.Contains(prompt, "新闻")) {
			prompt = defaultAINewsPrompt(prompt)
		}
		var tasks []ScheduledTask
		for _, t := range ts {
			task, err := deps.Schedules.UpsertDaily(chatID, t.HHMM, prompt)
			if err != nil {
				replyText(deps, chatID, threadID, fmt.Sprintf("schedule failed: %v", err))
				return
			}
			tasks = append(tasks, task)
		}
		if len(tasks) == 1 {
			replyText(deps, chatID, threadID, fmt.Sprintf("scheduled: id=%s daily %s", tasks[0].ID, tasks[0].DailyHHMM))
			return
		}
		var b strings.Builder
		b.WriteString("scheduled:\n")
		for _, task := range tasks {
			b.WriteString(fmt.Sprintf("- id=%s daily %s\n", task.ID, task.DailyHHMM))
		}
		replyText(deps, chatID, threadID, strings.TrimSpace(b.String()))
		return
	}

	dispatchRun(ctx, deps, chatID, threadID, ownerID, msg.MessageID, text, true, "")
}

// engineDirective reports whether token is a "/<engineID>" per-message
// engine-override directive: a leading slash followed by the id of a
// configured engine. Unknown ids (including real commands like "/new")
// fall through to the ordinary command switch.
func engineDirective(deps Deps, token string) (string, bool) {
	if !strings.HasPrefix(token, "/") || len(token) < 2 {
		return "", false
	}
	id := strings.ToLower(token[1:])
	if _, ok := deps.Cfg.Engines[id]; !ok {
		return "", false
	}
	return id, true
}

// sessionEngine/sessionResume/clearSessions/setSessionResume/setDefaultEngine
// route session state to ChatSessions (keyed by owner) or Topics (keyed by
// thread), whichever isolatedByOwner selects for this chat/thread pair.

func sessionEngine(deps Deps, chatID int64, threadID int, ownerID int64) string {
	if isolatedByOwner(chatID, threadID) {
		return deps.ChatSessions.GetDefaultEngine(chatID, ownerID)
	}
	return deps.Topics.GetDefaultEngine(chatID, threadID)
}

func sessionResume(deps Deps, chatID int64, threadID int, ownerID int64, engineID string) string {
	if isolatedByOwner(chatID, threadID) {
		return deps.ChatSessions.GetResume(chatID, ownerID, engineID)
	}
	return deps.Topics.GetSessionResume(chatID, threadID, engineID)
}

func setSessionResume(deps Deps, chatID int64, threadID int, ownerID int64, engineID, value string) error {
	if isolatedByOwner(chatID, threadID) {
		return deps.ChatSessions.SetResume(chatID, ownerID, engineID, value)
	}
	return deps.Topics.SetSessionResume(chatID, threadID, engineID, value)
}

func clearSessions(deps Deps, chatID int64, threadID int, ownerID int64) error {
	if isolatedByOwner(chatID, threadID) {
		return deps.ChatSessions.ClearSessions(chatID, ownerID)
	}
	return deps.Topics.ClearSessions(chatID, threadID)
}

func setDefaultEngine(deps Deps, chatID int64, threadID int, ownerID int64, engineID string) error {
	if isolatedByOwner(chatID, threadID) {
		return deps.ChatSessions.SetDefaultEngine(chatID, ownerID, engineID)
	}
	return deps.Topics.SetDefaultEngine(chatID, threadID, engineID)
}

// dispatchRun resolves the engine/context/resume token for a plain-text
// message and enqueues it on the per-session thread scheduler, which
// serializes it behind any already-running job for the same resume key
// (spec §4.9). The outcome's freshly-minted resume token (if any) is
// persisted back to session state so the next message in this thread (or
// from this owner, in a plain group) continues the same session. ownerID is
// 0 for scheduler-triggered runs: in a plain group they use the (chat, 0)
// ChatSessions entry, elsewhere the thread's shared TopicStateStore entry.
//
// finalNotify is threaded straight into orchestrator.Request.FinalNotify:
// true delivers the finished run as a fresh notifying message, false edits
// the progress message in place. engineOverride, when non-empty, wins over
// the session's bound default engine for this one message only (the
// "/<engine> <prompt>" directive); it is never persisted.
func dispatchRun(ctx context.Context, deps Deps, chatID int64, threadID int, ownerID int64, replyTo int, text string, finalNotify bool, engineOverride string) {
	engineID := engineOverride
	if engineID == "" {
		engineID = sessionEngine(deps, chatID, threadID, ownerID)
	}
	if engineID == "" {
		engineID = deps.Cfg.DefaultEngine
	}

	var resume *model.ResumeToken
	if tok, ok := deps.Resume.ExtractAny(text); ok {
		engineID = tok.Engine
		text = deps.Resume.StripAny(text)
		resume = &tok
	} else if v := sessionResume(deps, chatID, threadID, ownerID, engineID); v != "" {
		resume = &model.ResumeToken{Engine: engineID, Value: v}
	}

	runCtx := deps.Topics.GetContext(chatID, threadID)

	key := fmt.Sprintf("new:%s:%d:%d:%d", engineID, chatID, threadID, ownerID)
	if resume != nil && !resume.IsZero() {
		key = ThreadKey(resume.Engine, resume.Value)
	}

	done := make(chan struct{})
	deps.Scheduler.Enqueue(key, ThreadJob{
		ChatID:    chatID,
		UserMsgID: replyTo,
		Text:      text,
		Run: func(ThreadJob) {
			defer close(done)
			outcome := deps.Orchestrator.HandleMessage(ctx, orchestrator.Request{
				Engine:      engineID,
				Prompt:      text,
				Resume:      resume,
				Context:     runCtx,
				ChatID:      chatID,
				ThreadID:    threadID,
				ReplyTo:     replyTo,
				FinalNotify: finalNotify,
			})
			if !outcome.Resume.IsZero() {
				if err := setSessionResume(deps, chatID, threadID, ownerID, outcome.Resume.Engine, outcome.Resume.Value); err != nil {
					deps.Logger.Warn("telegram.persist_resume_failed", "err", err)
				}
			}
		},
	})
}

func handleCancel(deps Deps, chatID int64, threadID int) {
	for _, t := range deps.Orchestrator.Tasks().List() {
		if t.ProgressRef.ChatID == chatID && t.ProgressRef.ThreadID == threadID {
			t.RequestCancel()
			replyText(deps, chatID, threadID, "sent interrupt")
			return
		}
	}
	replyText(deps, chatID, threadID, "no running task")
}

func handleStatus(deps Deps, chatID int64, threadID int) {
	for _, t := range deps.Orchestrator.Tasks().List() {
		if t.ProgressRef.ChatID == chatID && t.ProgressRef.ThreadID == threadID {
			replyText(deps, chatID, threadID, fmt.Sprintf("running since %s", t.StartedAt.Format("15:04:05")))
			return
		}
	}
	replyText(deps, chatID, threadID, "no running task")
}

func handleEngineCmd(deps Deps, chatID int64, threadID int, ownerID int64, cmd []string) {
	if len(cmd) < 2 {
		replyText(deps, chatID, threadID, fmt.Sprintf("current engine: %s", currentEngine(deps, chatID, threadID, ownerID)))
		return
	}
	engineID := cmd[1]
	if _, ok := deps.Cfg.Engines[engineID]; !ok {
		replyText(deps, chatID, threadID, fmt.Sprintf("unknown engine %q", engineID))
		return
	}
	if err := setDefaultEngine(deps, chatID, threadID, ownerID, engineID); err != nil {
		replyText(deps, chatID, threadID, fmt.Sprintf("engine switch failed: %v", err))
		return
	}
	replyText(deps, chatID, threadID, fmt.Sprintf("engine: %s", engineID))
}

func currentEngine(deps Deps, chatID int64, threadID int, ownerID int64) string {
	if e := sessionEngine(deps, chatID, threadID, ownerID); e != "" {
		return e
	}
	return deps.Cfg.DefaultEngine
}

func handleProjectCmd(deps Deps, chatID int64, threadID int, cmd []string) {
	if len(cmd) < 2 {
		ctx := deps.Topics.GetContext(chatID, threadID)
		if ctx.IsZero() {
			replyText(deps, chatID, threadID, "no project bound; usage: /project <alias>")
			return
		}
		replyText(deps, chatID, threadID, fmt.Sprintf("project: %s", ctx.Project))
		return
	}
	alias := cmd[1]
	entry, ok := deps.Projects[alias]
	if !ok {
		replyText(deps, chatID, threadID, fmt.Sprintf("unknown project alias %q", alias))
		return
	}
	runCtx := model.RunContext{Project: entry.Root, Branch: entry.Branch}
	if err := deps.Topics.SetContext(chatID, threadID, runCtx); err != nil {
		replyText(deps, chatID, threadID, fmt.Sprintf("project switch failed: %v", err))
		return
	}
	replyText(deps, chatID, threadID, fmt.Sprintf("project: %s", alias))
}

// replyText sends a plain command reply directly through the Client,
// bypassing the orchestrator since this isn't tied to a run's progress
// message lifecycle.
func replyText(deps Deps, chatID int64, threadID int, text string) {
	_, err := deps.Client.SendMessage(model.MessageRef{ChatID: chatID, ThreadID: threadID}, text, 0, false, nil)
	if err != nil {
		deps.Logger.Warn("telegram.reply_failed", "err", err)
	}
}
