package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for vitalwatch
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Sync          SyncConfig          `mapstructure:"sync"`
	Security      SecurityConfig      `mapstructure:"security"`
	User          UserConfig          `mapstructure:"user"`
	Thresholds    ThresholdsConfig    `mapstructure:"thresholds"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Reminders     RemindersConfig     `mapstructure:"reminders"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig selects the zap preset
type LogConfig struct {
	Format string `mapstructure:"format"` // console or json
	Level  string `mapstructure:"level"`
}

// StorageConfig holds local database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	BadgerPath string `mapstructure:"badger_path"`
}

// SyncConfig holds the remote document store settings
type SyncConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite or postgres
	DSN     string `mapstructure:"dsn"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
	TokenTTLHours int      `mapstructure:"token_ttl_hours"`
}

// UserConfig identifies the local user in single-user mode
type UserConfig struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"display_name"`
}

// ThresholdsConfig points at an optional YAML override of the clinical table
type ThresholdsConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// NotificationsConfig holds dispatcher and sender settings
type NotificationsConfig struct {
	RatePerMinute  int            `mapstructure:"rate_per_minute"`
	Burst          int            `mapstructure:"burst"`
	BreakerTimeout int            `mapstructure:"breaker_timeout"` // seconds
	BreakerTrips   int            `mapstructure:"breaker_trips"`   // consecutive failures
	FCM            FCMConfig      `mapstructure:"fcm"`
	SNS            SNSConfig      `mapstructure:"sns"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	Discord        DiscordConfig  `mapstructure:"discord"`
}

// FCMConfig holds Firebase Cloud Messaging settings
type FCMConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SNSConfig holds AWS SNS mobile push settings
type SNSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Region      string `mapstructure:"region"`
	PlatformARN string `mapstructure:"platform_arn"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Token      string   `mapstructure:"token"`
	ChannelIDs []string `mapstructure:"channel_ids"`
}

// IngestConfig holds device ingestion settings
type IngestConfig struct {
	AMQP AMQPConfig `mapstructure:"amqp"`
}

// AMQPConfig holds the RabbitMQ consumer settings
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

// RemindersConfig holds reminder scheduler settings
type RemindersConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	CheckInterval  int    `mapstructure:"check_interval"` // seconds
	ReportSchedule string `mapstructure:"report_schedule"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("sync.dsn", filepath.Join(dataDir, "vitalwatch.db"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "vitalwatch.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (VITALWATCH_SERVER_PORT, VITALWATCH_SYNC_DSN, etc.)
	v.SetEnvPrefix("VITALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("log.format", "console")
	v.SetDefault("log.level", "info")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.driver", "sqlite")

	v.SetDefault("security.allow_origins", []string{"*"})
	v.SetDefault("security.token_ttl_hours", 24*7)

	v.SetDefault("user.id", "default")
	v.SetDefault("user.display_name", "User")

	v.SetDefault("thresholds.watch", true)

	v.SetDefault("notifications.rate_per_minute", 30)
	v.SetDefault("notifications.burst", 5)
	v.SetDefault("notifications.breaker_timeout", 60)
	v.SetDefault("notifications.breaker_trips", 5)
	v.SetDefault("notifications.sns.region", "ap-south-1")

	v.SetDefault("ingest.amqp.queue", "vitals.readings")
	v.SetDefault("ingest.amqp.prefetch", 10)

	v.SetDefault("reminders.enabled", true)
	v.SetDefault("reminders.check_interval", 30)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vitalwatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "vitalwatch")
}

func validate(cfg *Config) error {
	if cfg.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", cfg.Log.Format)
	}

	if cfg.Sync.Enabled {
		switch cfg.Sync.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("sync.driver must be sqlite or postgres, got %q", cfg.Sync.Driver)
		}
		if cfg.Sync.DSN == "" {
			return fmt.Errorf("sync.dsn is required when sync is enabled")
		}
	}

	n := &cfg.Notifications
	if n.Telegram.Enabled && n.Telegram.BotToken == "" {
		return fmt.Errorf("notifications.telegram.bot_token is required")
	}
	if n.Discord.Enabled && n.Discord.Token == "" {
		return fmt.Errorf("notifications.discord.token is required")
	}
	if n.SNS.Enabled && n.SNS.PlatformARN == "" {
		return fmt.Errorf("notifications.sns.platform_arn is required")
	}
	if n.RatePerMinute < 0 || n.Burst < 0 {
		return fmt.Errorf("notifications rate settings must not be negative")
	}

	if cfg.Ingest.AMQP.Enabled && cfg.Ingest.AMQP.URL == "" {
		return fmt.Errorf("ingest.amqp.url is required")
	}

	if cfg.Reminders.CheckInterval <= 0 {
		cfg.Reminders.CheckInterval = 30
	}

	// Generate JWT secret if not provided
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// TokenTTL returns how long issued API tokens stay valid
func (c *Config) TokenTTL() time.Duration {
	if c.Security.TokenTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Security.TokenTTLHours) * time.Hour
}

// ReminderInterval returns the reminder polling interval
func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Reminders.CheckInterval) * time.Second
}
