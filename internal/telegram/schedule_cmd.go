package telegram

import (
	"context"
	"fmt"
	"strings"
)

func handleScheduleCmd(ctx context.Context, deps Deps, chatID int64, cmd []string) {
	store := deps.Schedules
	threadID := 0
	if store == nil {
		replyText(deps, chatID, threadID, "schedule store not initialized")
		return
	}
	if len(cmd) == 1 || (len(cmd) >= 2 && (cmd[1] == "ls" || cmd[1] == "list")) {
		tasks := store.List(chatID)
		if len(tasks) == 0 {
			replyText(deps, chatID, threadID, "schedule: (empty)")
			return
		}
		var b strings.Builder
		b.WriteString("schedule:\n")
		for _, t := range tasks {
			ena := "off"
			if t.Enabled {
				ena = "on"
			}
			b.WriteString(fmt.Sprintf("- id=%s %s %s last=%s\n", t.ID, t.DailyHHMM, ena, t.LastRunYMD))
		}
		replyText(deps, chatID, threadID, b.String())
		return
	}

	switch cmd[1] {
	case "add", "set":
		// Support both:
		// 1) /schedule add HH:MM <prompt>
		// 2) /schedule add 每天下午4点提醒我喝水
		if len(cmd) >= 4 {
			hhmm := cmd[2]
			prompt := strings.Join(cmd[3:], " ")
			task, err := store.UpsertDaily(chatID, hhmm, prompt)
			if err != nil {
				replyText(deps, chatID, threadID, fmt.Sprintf("schedule add failed: %v", err))
				return
			}
			replyText(deps, chatID, threadID, fmt.Sprintf("scheduled: id=%s daily %s", task.ID, task.DailyHHMM))
			return
		}

		if len(cmd) >= 3 {
			nl := strings.Join(cmd[2:], " ")
			nl = strings.TrimSpace(nl)
			if nl != "" && !strings.HasPrefix(nl, "每天") {
				nl = "每天" + nl
			}
			if ts, ok := parseDailySchedules(nl); ok {
				var ids []string
				for _, t := range ts {
					task, err := store.UpsertDaily(chatID, t.HHMM, t.Prompt)
					if err != nil {
						replyText(deps, chatID, threadID, fmt.Sprintf("schedule add failed: %v", err))
						return
					}
					ids = append(ids, fmt.Sprintf("%s(%s)", task.ID, task.DailyHHMM))
				}
				replyText(deps, chatID, threadID, "scheduled: "+strings.Join(ids, ", "))
				return
			}
		}

		replyText(deps, chatID, threadID, "usage: /schedule add HH:MM <prompt>\n或：/schedule add 每天下午4点提醒我喝水")
		return
	case "rm", "remove", "delete", "del":
		if len(cmd) < 3 {
			replyText(deps, chatID, threadID, "usage: /schedule rm <id>")
			return
		}
		ok, err := store.Remove(chatID, cmd[2])
		if err != nil {
			replyText(deps, chatID, threadID, fmt.Sprintf("schedule rm failed: %v", err))
			return
		}
		if !ok {
			replyText(deps, chatID, threadID, "schedule rm: not found")
			return
		}
		replyText(deps, chatID, threadID, "schedule removed")
		return
	case "on":
		if len(cmd) < 3 {
			replyText(deps, chatID, threadID, "usage: /schedule on <id>")
			return
		}
		ok, err := store.SetEnabled(chatID, cmd[2], true)
		if err != nil {
			replyText(deps, chatID, threadID, fmt.Sprintf("schedule on failed: %v", err))
			return
		}
		if !ok {
			replyText(deps, chatID, threadID, "schedule on: not found")
			return
		}
		replyText(deps, chatID, threadID, "schedule on: ok")
		return
	case "off":
		if len(cmd) < 3 {
			replyText(deps, chatID, threadID, "usage: /schedule off <id>")
			return
		}
		ok, err := store.SetEnabled(chatID, cmd[2], false)
		if err != nil {
			replyText(deps, chatID, threadID, fmt.Sprintf("schedule off failed: %v", err))
			return
		}
		if !ok {
			replyText(deps, chatID, threadID, "schedule off: not found")
			return
		}
		replyText(deps, chatID, threadID, "schedule off: ok")
		return
	case "run":
		// Manual trigger: /schedule run <id>
		if len(cmd) < 3 {
			replyText(deps, chatID, threadID, "usage: /schedule run <id>")
			return
		}
		tasks := store.List(chatID)
		for _, t := range tasks {
			if t.ID == cmd[2] {
				dispatchRun(ctx, deps, chatID, threadID, 0, 0, t.Prompt, true, "")
				return
			}
		}
		replyText(deps, chatID, threadID, "schedule run: not found")
		return
	default:
		replyText(deps, chatID, threadID, "usage:\n/schedule\n/schedule add HH:MM <prompt>\n/schedule rm <id>\n/schedule on|off <id>\n/schedule run <id>")
		return
	}
}
