package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mybot/internal/model"
	"mybot/internal/util"
)

// Client wraps tgbotapi.BotAPI so every outbound call is routed through the
// Outbox, matching original_source/src/takopi/telegram/client.py's
// send_message/edit_message_text/delete_message contract: priorities,
// coalescing keys, and the replace-hint preemption ordering from spec
// §4.7/§9 ("Edit vs send preemption").
type Client struct {
	bot    *tgbotapi.BotAPI
	outbox *Outbox
}

func NewClient(bot *tgbotapi.BotAPI, outbox *Outbox) *Client {
	return &Client{bot: bot, outbox: outbox}
}

func tgErrToRetryAfter(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*tgbotapi.Error); ok && apiErr.RetryAfter > 0 {
		return RetryAfter{Seconds: float64(apiErr.RetryAfter)}
	}
	return err
}

// SendMessage sends text as a new message, optionally as a reply and
// optionally silent. If replaceRef is non-zero, pending edits to that
// message are dropped first and, on success, that message is deleted
// afterward — the exact ordering spec §9 requires (drop, send, delete).
func (c *Client) SendMessage(ref model.MessageRef, text string, replyTo int, silent bool, replaceRef *model.MessageRef) (model.MessageRef, error) {
	if replaceRef != nil {
		c.outbox.DropPendingEdits(replaceRef.ChatID, replaceRef.MessageID)
	}

	key := c.outbox.nextUniqueKey(OpSend)
	if replaceRef != nil {
		key = OpKey{Kind: OpSend, ChatID: replaceRef.ChatID, MessageID: replaceRef.MessageID}
	}

	var result model.MessageRef
	var sendErr error
	err := c.outbox.Enqueue(OutboxOp{
		Key:      key,
		Label:    "sendMessage",
		Priority: PrioritySend,
		ChatID:   ref.ChatID,
		Execute: func() error {
			body, _ := util.FormatTelegramHTML(text)
			msg := tgbotapi.NewMessage(ref.ChatID, body)
			msg.ParseMode = "HTML"
			msg.DisableNotification = silent
			if replyTo != 0 {
				msg.ReplyToMessageID = replyTo
			}
			if ref.ThreadID != 0 {
				msg.MessageThreadID = ref.ThreadID
			}
			sent, err := c.bot.Send(msg)
			if err != nil {
				sendErr = tgErrToRetryAfter(err)
				return sendErr
			}
			result = model.MessageRef{ChatID: ref.ChatID, MessageID: sent.MessageID, ThreadID: ref.ThreadID}
			return nil
		},
	}, true)
	if err != nil {
		return model.MessageRef{}, err
	}

	if replaceRef != nil && sendErr == nil {
		c.DeleteMessage(*replaceRef)
	}

	return result, sendErr
}

// EditMessageText issues a fire-and-forget (wait=false) edit, coalescing
// with any still-queued edit of the same message (spec §4.6/§4.7).
func (c *Client) EditMessageText(ref model.MessageRef, text string) {
	key := OpKey{Kind: OpEdit, ChatID: ref.ChatID, MessageID: ref.MessageID}
	_ = c.outbox.Enqueue(OutboxOp{
		Key:      key,
		Label:    "editMessageText",
		Priority: PriorityEdit,
		ChatID:   ref.ChatID,
		Execute: func() error {
			body, _ := util.FormatTelegramHTML(text)
			edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, body)
			edit.ParseMode = "HTML"
			_, err := c.bot.Send(edit)
			return tgErrToRetryAfter(err)
		},
	}, false)
}

// DeleteMessage drops any pending edit for the message first, then deletes.
func (c *Client) DeleteMessage(ref model.MessageRef) {
	c.outbox.DropPendingEdits(ref.ChatID, ref.MessageID)
	key := OpKey{Kind: OpDelete, ChatID: ref.ChatID, MessageID: ref.MessageID}
	_ = c.outbox.Enqueue(OutboxOp{
		Key:      key,
		Label:    "deleteMessage",
		Priority: PriorityDelete,
		ChatID:   ref.ChatID,
		Execute: func() error {
			_, err := c.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID))
			return tgErrToRetryAfter(err)
		},
	}, false)
}

// SetMyCommands is a uniquely-keyed, never-coalesced send-priority op.
func (c *Client) SetMyCommands(cmds []tgbotapi.BotCommand) error {
	return c.outbox.Enqueue(OutboxOp{
		Key:      c.outbox.nextUniqueKey(OpSend),
		Label:    "setMyCommands",
		Priority: PrioritySend,
		Execute: func() error {
			_, err := c.bot.Request(tgbotapi.NewSetMyCommands(cmds...))
			return tgErrToRetryAfter(err)
		},
	}, true)
}

// AnswerCallbackQuery acknowledges an inline-keyboard callback (e.g.
// `takopi:cancel`).
func (c *Client) AnswerCallbackQuery(callbackID, text string) {
	_ = c.outbox.Enqueue(OutboxOp{
		Key:      c.outbox.nextUniqueKey(OpSend),
		Label:    "answerCallbackQuery",
		Priority: PrioritySend,
		Execute: func() error {
			_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
			return tgErrToRetryAfter(err)
		},
	}, false)
}

func (c *Client) Self() tgbotapi.User { return c.bot.Self }
