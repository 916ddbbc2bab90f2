package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files from the working directory and the user's
// config directories. Variables already present in the environment win.
func LoadEnvFiles() error {
	return loadEnvFiles(envFilePaths()...)
}

func envFilePaths() []string {
	paths := []string{"./.env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".vitalwatch", ".env"),
			filepath.Join(home, ".config", "vitalwatch", ".env"),
		)
	}
	return paths
}

func loadEnvFiles(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// envOverride maps a config field to its canonical variable plus the
// unprefixed names operators tend to have exported already.
type envOverride struct {
	key     string
	aliases []string
	apply   func(cfg *Config, value string)
}

var envOverrides = []envOverride{
	{"VITALWATCH_SYNC_DSN", []string{"DATABASE_URL"},
		func(c *Config, v string) { c.Sync.DSN = v }},
	{"VITALWATCH_SECURITY_JWT_SECRET", []string{"JWT_SECRET"},
		func(c *Config, v string) { c.Security.JWTSecret = v }},
	{"VITALWATCH_SECURITY_ADMIN_PASSWORD", []string{"VITALWATCH_ADMIN_PASSWORD"},
		func(c *Config, v string) { c.Security.AdminPassword = v }},
	{"VITALWATCH_NOTIFICATIONS_FCM_CREDENTIALS_FILE", []string{"FIREBASE_SERVICE_ACCOUNT_PATH", "GOOGLE_APPLICATION_CREDENTIALS"},
		func(c *Config, v string) { c.Notifications.FCM.CredentialsFile = v }},
	{"VITALWATCH_NOTIFICATIONS_SNS_REGION", []string{"AWS_REGION"},
		func(c *Config, v string) { c.Notifications.SNS.Region = v }},
	{"VITALWATCH_NOTIFICATIONS_SNS_PLATFORM_ARN", []string{"SNS_FCM_ARN"},
		func(c *Config, v string) { c.Notifications.SNS.PlatformARN = v }},
	{"VITALWATCH_NOTIFICATIONS_TELEGRAM_BOT_TOKEN", []string{"TELEGRAM_BOT_TOKEN"},
		func(c *Config, v string) { c.Notifications.Telegram.BotToken = v }},
	{"VITALWATCH_NOTIFICATIONS_TELEGRAM_CHAT_IDS", nil,
		func(c *Config, v string) { c.Notifications.Telegram.ChatIDs = parseInt64List(v) }},
	{"VITALWATCH_NOTIFICATIONS_DISCORD_TOKEN", []string{"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
		func(c *Config, v string) { c.Notifications.Discord.Token = v }},
	{"VITALWATCH_NOTIFICATIONS_DISCORD_CHANNEL_IDS", nil,
		func(c *Config, v string) { c.Notifications.Discord.ChannelIDs = parseList(v) }},
	{"VITALWATCH_INGEST_AMQP_URL", []string{"RABBITMQ_URL", "AMQP_URL"},
		func(c *Config, v string) { c.Ingest.AMQP.URL = v }},
}

// lookup returns the first non-empty value among key and its aliases
func (o envOverride) lookup() (string, bool) {
	for _, k := range append([]string{o.key}, o.aliases...) {
		if v := os.Getenv(k); v != "" {
			return v, true
		}
	}
	return "", false
}

func loadEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := o.lookup(); ok {
			o.apply(cfg, v)
		}
	}
}

// Viper does not split comma lists coming from env
func parseList(s string) []string {
	var out []string
	for _, raw := range strings.Split(s, ",") {
		if item := strings.TrimSpace(raw); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt64List(s string) []int64 {
	var out []int64
	for _, item := range parseList(s) {
		if id, err := strconv.ParseInt(item, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
