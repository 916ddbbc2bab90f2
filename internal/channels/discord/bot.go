// Package discord provides Discord bot integration
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gmsas95/vitalwatch/internal/channels"
	"github.com/gmsas95/vitalwatch/internal/notify"
	"go.uber.org/zap"
)

const maxMessageLen = 2000

// Config holds Discord bot configuration
type Config struct {
	Token      string
	ChannelIDs []string // channels that receive notifications and may issue commands
	UserID     string   // the user whose vitals the bot reports on
}

type session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot delivers notifications to Discord channels and answers health commands
type Bot struct {
	session  *discordgo.Session
	sender   session
	health   channels.Health
	config   Config
	channels map[string]bool
	logger   *zap.Logger
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, health channels.Health, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := newBot(s, cfg, health, logger)
	bot.session = s

	s.AddHandler(bot.messageCreate)
	s.AddHandler(bot.ready)
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return bot, nil
}

func newBot(sender session, cfg Config, health channels.Health, logger *zap.Logger) *Bot {
	allowed := make(map[string]bool, len(cfg.ChannelIDs))
	for _, ch := range cfg.ChannelIDs {
		allowed[ch] = true
	}
	return &Bot{
		sender:   sender,
		health:   health,
		config:   cfg,
		channels: allowed,
		logger:   logger,
	}
}

// Start opens the gateway connection
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection
func (b *Bot) Stop() error {
	return b.session.Close()
}

// Name implements notify.Sender
func (b *Bot) Name() string { return "discord" }

// Send implements notify.Sender
func (b *Bot) Send(ctx context.Context, n *notify.Notification) error {
	if n.UserID != "" && n.UserID != b.config.UserID {
		return nil
	}

	text := channels.FormatNotification(n)
	var lastErr error
	sent := 0
	for _, ch := range b.config.ChannelIDs {
		if err := b.sendMessage(ch, text); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("discord send failed: %w", lastErr)
	}
	return nil
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", s.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if reply, ok := b.reply(m.ChannelID, m.Content); ok {
		if err := b.sendMessage(m.ChannelID, reply); err != nil {
			b.logger.Warn("Failed to reply", zap.Error(err))
		}
	}
}

// reply answers a slash-prefixed message from an allowed channel
func (b *Bot) reply(channelID, content string) (string, bool) {
	if len(b.channels) > 0 && !b.channels[channelID] {
		return "", false
	}

	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	parts := strings.Fields(strings.TrimPrefix(content, "/"))
	if len(parts) == 0 {
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return channels.Handle(ctx, b.health, b.config.UserID, parts[0], parts[1:]), true
}

func (b *Bot) sendMessage(channelID, text string) error {
	// Discord uses ** for bold
	text = strings.ReplaceAll(text, "*", "**")
	for _, part := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := b.sender.ChannelMessageSend(channelID, part); err != nil {
			return err
		}
	}
	return nil
}
