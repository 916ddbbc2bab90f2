// Package app wires the stores, the vitals service and every transport into
// one running process.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmsas95/vitalwatch/internal/api"
	"github.com/gmsas95/vitalwatch/internal/channels/discord"
	"github.com/gmsas95/vitalwatch/internal/channels/telegram"
	"github.com/gmsas95/vitalwatch/internal/config"
	"github.com/gmsas95/vitalwatch/internal/ingest"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/notify"
	"github.com/gmsas95/vitalwatch/internal/realtime"
	"github.com/gmsas95/vitalwatch/internal/reminders"
	"github.com/gmsas95/vitalwatch/internal/store"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	"go.uber.org/zap"
)

type App struct {
	Config     *config.Config
	Store      *store.Store
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher
	Hub        *realtime.Hub
	Vitals     *vitals.Service
	Server     *api.Server
	Reminders  *reminders.Runner

	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	Version     string
}

// NewLogger builds a development logger, or a production one for json output
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// New builds the offline part of the application: dispatcher with the log
// sender, threshold table, vitals service, realtime hub, HTTP server and the
// reminder runner when the sync store is available. Network senders and
// consumers are attached by Run.
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: metrics.New(),
		Version: version,
	}

	nc := cfg.Notifications
	app.Dispatcher = notify.NewDispatcher(notify.Options{
		RatePerMinute:  nc.RatePerMinute,
		Burst:          nc.Burst,
		BreakerTimeout: time.Duration(nc.BreakerTimeout) * time.Second,
		BreakerTrips:   uint32(nc.BreakerTrips),
		Preferences:    st.Local,
		Metrics:        app.Metrics,
		Logger:         logger.Named("notify"),
	})
	app.Dispatcher.Register(notify.NewLogSender(logger.Named("notify")))

	table := vitals.DefaultTable()
	if cfg.Thresholds.File != "" {
		loaded, err := vitals.LoadTable(cfg.Thresholds.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load thresholds: %w", err)
		}
		table = loaded
	}
	thresholds, err := vitals.NewThresholds(table)
	if err != nil {
		return nil, err
	}

	app.Hub = realtime.NewHub(app.Metrics, logger.Named("realtime"))

	opts := vitals.Options{
		Store:      st.Local,
		Notifier:   app.Dispatcher,
		Publisher:  app.Hub,
		Thresholds: thresholds,
		Metrics:    app.Metrics,
		Logger:     logger.Named("vitals"),
	}
	if st.Sync != nil {
		opts.Sync = st.Sync
	}
	app.Vitals, err = vitals.NewService(opts)
	if err != nil {
		return nil, err
	}

	api.Version = version
	deps := api.Deps{
		Config:      cfg,
		Vitals:      app.Vitals,
		Preferences: st.Local,
		Hub:         app.Hub,
		Metrics:     app.Metrics,
		Logger:      logger,
	}
	if st.Sync != nil {
		deps.Registry = st.Sync
	}
	app.Server = api.New(deps)

	if cfg.Reminders.Enabled {
		if st.Sync == nil {
			logger.Warn("Reminders need the sync store; scheduler disabled")
		} else {
			app.Reminders, err = reminders.NewRunner(reminders.Config{
				CheckInterval:  cfg.ReminderInterval(),
				ReportSchedule: cfg.Reminders.ReportSchedule,
				ReportUsers:    []string{cfg.User.ID},
			}, st.Sync, app.Dispatcher, app.Vitals, logger, reminders.WithMetrics(app.Metrics))
			if err != nil {
				return nil, err
			}
		}
	}

	return app, nil
}

// ImportService returns a service sharing the stores and thresholds that
// neither notifies nor publishes, for replaying historical samples.
func (app *App) ImportService() (*vitals.Service, error) {
	opts := vitals.Options{
		Store:      app.Store.Local,
		Thresholds: app.Vitals.Thresholds(),
		Metrics:    app.Metrics,
		Logger:     app.Logger.Named("import"),
	}
	if app.Store.Sync != nil {
		opts.Sync = app.Store.Sync
	}
	return vitals.NewService(opts)
}

// RunServer runs until SIGINT or SIGTERM
func (app *App) RunServer() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		app.Logger.Fatal("Server error", zap.Error(err))
	}
}

// Run starts every configured component and blocks until ctx is done or the
// HTTP server fails, then shuts everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if n, err := app.Vitals.Restore(ctx, app.Config.User.ID); err != nil {
		app.Logger.Warn("Failed to restore from sync store", zap.Error(err))
	} else if n > 0 {
		app.Logger.Info("Restored vitals from sync store", zap.Int("samples", n))
	}

	if app.Config.Thresholds.File != "" && app.Config.Thresholds.Watch {
		if err := vitals.WatchThresholds(ctx, app.Config.Thresholds.File, app.Vitals.Thresholds(), app.Logger); err != nil {
			app.Logger.Warn("Threshold hot reload disabled", zap.Error(err))
		}
	}

	app.startSenders(ctx)
	app.startBots()

	ingestDone := app.startIngest(ctx)

	if app.Reminders != nil {
		if err := app.Reminders.Start(); err != nil {
			app.Logger.Error("Failed to start reminder runner", zap.Error(err))
		} else {
			app.Logger.Info("Reminder runner started")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Address()),
		zap.Strings("senders", app.Dispatcher.Senders()),
		zap.String("version", app.Version),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	app.Logger.Info("Shutting down...")
	cancel()
	app.shutdown()
	if ingestDone != nil {
		<-ingestDone
	}
	return runErr
}

func (app *App) startSenders(ctx context.Context) {
	nc := app.Config.Notifications
	if (nc.FCM.Enabled || nc.SNS.Enabled) && app.Store.Sync == nil {
		app.Logger.Warn("Push senders need the device registry in the sync store; FCM and SNS disabled")
		return
	}

	if nc.FCM.Enabled {
		s, err := notify.NewFCMSender(ctx, nc.FCM.CredentialsFile, app.Store.Sync, app.Logger.Named("fcm"))
		if err != nil {
			app.Logger.Error("Failed to create FCM sender", zap.Error(err))
		} else {
			app.Dispatcher.Register(s)
		}
	}

	if nc.SNS.Enabled {
		s, err := notify.NewSNSSender(ctx, nc.SNS.Region, nc.SNS.PlatformARN, app.Store.Sync, app.Logger.Named("sns"))
		if err != nil {
			app.Logger.Error("Failed to create SNS sender", zap.Error(err))
		} else {
			app.Dispatcher.Register(s)
		}
	}
}

func (app *App) startBots() {
	nc := app.Config.Notifications

	if nc.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:   nc.Telegram.BotToken,
			ChatIDs: nc.Telegram.ChatIDs,
			UserID:  app.Config.User.ID,
		}, app.Vitals, app.Logger.Named("telegram"))
		if err != nil {
			app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			app.TelegramBot = bot
			app.Dispatcher.Register(bot)
			app.Logger.Info("Telegram bot started")
		}
	}

	if nc.Discord.Enabled && nc.Discord.Token != "" {
		bot, err := discord.NewBot(discord.Config{
			Token:      nc.Discord.Token,
			ChannelIDs: nc.Discord.ChannelIDs,
			UserID:     app.Config.User.ID,
		}, app.Vitals, app.Logger.Named("discord"))
		if err != nil {
			app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			app.Logger.Error("Failed to start Discord bot", zap.Error(err))
		} else {
			app.DiscordBot = bot
			app.Dispatcher.Register(bot)
			app.Logger.Info("Discord bot started")
		}
	}
}

// startIngest launches the AMQP consumer; the returned channel closes when it
// has stopped, or is nil when ingestion is disabled.
func (app *App) startIngest(ctx context.Context) <-chan struct{} {
	ac := app.Config.Ingest.AMQP
	if !ac.Enabled {
		return nil
	}

	consumer, err := ingest.NewConsumer(ingest.Options{
		URL:           ac.URL,
		Queue:         ac.Queue,
		Prefetch:      ac.Prefetch,
		DefaultUserID: app.Config.User.ID,
		Recorder:      app.Vitals,
		Metrics:       app.Metrics,
		Logger:        app.Logger.Named("ingest"),
	})
	if err != nil {
		app.Logger.Error("Failed to create AMQP consumer", zap.Error(err))
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx); err != nil {
			app.Logger.Error("AMQP consumer stopped", zap.Error(err))
		}
	}()
	app.Logger.Info("AMQP consumer started", zap.String("queue", ac.Queue))
	return done
}

func (app *App) shutdown() {
	if app.TelegramBot != nil {
		app.TelegramBot.Stop()
	}
	if app.DiscordBot != nil {
		if err := app.DiscordBot.Stop(); err != nil {
			app.Logger.Warn("Discord shutdown error", zap.Error(err))
		}
	}
	if app.Reminders != nil {
		app.Reminders.Stop()
	}
	if err := app.Server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	app.Hub.Close()
}
