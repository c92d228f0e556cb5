// Mendbot - conversational medication companion
// License: MIT

package channels

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mendhq/mendbot/pkg/bus"
	"github.com/mendhq/mendbot/pkg/config"
	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/replyfmt"
	"github.com/mendhq/mendbot/pkg/utils"
)

// TelegramChannel is the primary end-user channel.
type TelegramChannel struct {
	bot       *tgbotapi.BotAPI
	bus       *bus.MessageBus
	allowFrom []string
	running   bool
	cancel    context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}

	logger.InfoCF("telegram", "Authorized", map[string]interface{}{
		"username": bot.Self.UserName,
	})

	return &TelegramChannel{
		bot:       bot,
		bus:       msgBus,
		allowFrom: cfg.AllowFrom,
	}, nil
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := c.bot.GetUpdatesChan(updateCfg)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(update)
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	c.bot.StopReceivingUpdates()
	return nil
}

func (c *TelegramChannel) IsRunning() bool {
	return c.running
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	senderID := strconv.FormatInt(update.Message.From.ID, 10)
	if !allowedSender(c.allowFrom, senderID) {
		logger.WarnCF("telegram", "Sender not in allow list", map[string]interface{}{
			"sender_id": senderID,
		})
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    "telegram",
		SenderID:   senderID,
		ChatID:     strconv.FormatInt(update.Message.Chat.ID, 10),
		Content:    update.Message.Text,
		SessionKey: senderID,
	})
}

// Send formats the reply into chunks and delivers them in order. Rich
// chunks that Telegram rejects are re-sent as plain text; losing the
// formatting beats losing the message.
func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", msg.ChatID, err)
	}

	chunks := replyfmt.FormatReply(msg.Content, replyfmt.MaxChunkLen)
	for _, chunk := range chunks {
		if err := c.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramChannel) sendChunk(ctx context.Context, chatID int64, chunk replyfmt.Chunk) error {
	tgMsg := tgbotapi.NewMessage(chatID, chunk.Text)
	tgMsg.ParseMode = chunk.ParseMode

	err := utils.Retry(ctx, 3, 300*time.Millisecond, func() error {
		_, sendErr := c.bot.Send(tgMsg)
		return sendErr
	})
	if err == nil {
		return nil
	}

	if chunk.ParseMode != "" {
		logger.WarnCF("telegram", "Rich send failed, retrying as plain text", map[string]interface{}{
			"error": err.Error(),
		})
		plain := tgbotapi.NewMessage(chatID, replyfmt.StripMarkup(chunk.Text))
		return utils.Retry(ctx, 3, 300*time.Millisecond, func() error {
			_, sendErr := c.bot.Send(plain)
			return sendErr
		})
	}
	return err
}

func (c *TelegramChannel) SendFile(ctx context.Context, chatID, filename string, content []byte, caption string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", chatID, err)
	}

	doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: filename, Bytes: content})
	doc.Caption = caption

	return utils.Retry(ctx, 3, 300*time.Millisecond, func() error {
		_, sendErr := c.bot.Send(doc)
		return sendErr
	})
}
