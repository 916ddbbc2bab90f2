package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gmsas95/vitalwatch/internal/channels"
	"github.com/gmsas95/vitalwatch/internal/notify"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxMessageLen = 4096

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot delivers notifications to Telegram chats and answers health commands
type Bot struct {
	api     botAPI
	health  channels.Health
	userID  string
	chatIDs []int64
	allowed map[int64]bool
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds Telegram bot configuration
type Config struct {
	Token   string
	ChatIDs []int64 // chats that receive notifications and may issue commands
	UserID  string  // the user whose vitals the bot reports on
}

// NewBot creates a new Telegram bot
func NewBot(cfg Config, health channels.Health, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return newBot(api, cfg, health, logger), nil
}

func newBot(api botAPI, cfg Config, health channels.Health, logger *zap.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	allowed := make(map[int64]bool, len(cfg.ChatIDs))
	for _, id := range cfg.ChatIDs {
		allowed[id] = true
	}

	return &Bot{
		api:     api,
		health:  health,
		userID:  cfg.UserID,
		chatIDs: cfg.ChatIDs,
		allowed: allowed,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name implements notify.Sender
func (b *Bot) Name() string { return "telegram" }

// Send implements notify.Sender. Every configured chat receives the message.
func (b *Bot) Send(ctx context.Context, n *notify.Notification) error {
	if n.UserID != "" && n.UserID != b.userID {
		return nil
	}

	text := channels.FormatNotification(n)
	var lastErr error
	sent := 0
	for _, chatID := range b.chatIDs {
		if err := b.sendMessage(chatID, text); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("telegram send failed: %w", lastErr)
	}
	return nil
}

// Start starts polling for commands
func (b *Bot) Start() error {
	b.wg.Add(1)
	go b.run()
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return nil
	}

	if len(b.allowed) > 0 && !b.allowed[msg.Chat.ID] {
		return b.sendMessage(msg.Chat.ID, "⛔ You are not authorized to use this bot.")
	}

	reply := channels.Handle(b.ctx, b.health, b.userID, msg.Command(), strings.Fields(msg.CommandArguments()))
	return b.sendMessage(msg.Chat.ID, reply)
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	for _, part := range channels.SplitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := b.api.Send(msg); err != nil {
			// retry as plain text when markdown is rejected
			msg.ParseMode = ""
			if _, err = b.api.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}
