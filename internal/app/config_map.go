package app

import (
	"fmt"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/notifier"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if !storage.ValidDriver(driver) {
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = "./data/remindd.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn (or DB_URL) is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, nil
	default:
		return storage.Config{Driver: driver}, nil
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	driver := strings.ToLower(strings.TrimSpace(nc.Driver))
	if driver == "" {
		driver = notifier.DriverLog
	}
	if !notifier.ValidDriver(driver) {
		return notifier.Config{}, fmt.Errorf("notifier.driver: unknown %q", nc.Driver)
	}
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	timeout, err := config.ParseDurationField("notifier.timeout", nc.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	relayTimeout, err := config.ParseDurationField("relay.timeout", cfg.Relay.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	ch := strings.ToLower(strings.TrimSpace(cfg.Twilio.Channel))
	if ch != "" && ch != notifier.ChannelSMS && ch != notifier.ChannelWhatsApp {
		return notifier.Config{}, fmt.Errorf("twilio.channel: unknown %q", cfg.Twilio.Channel)
	}

	return notifier.Config{
		Enabled:        nc.IsEnabled(),
		Driver:         driver,
		RatePerSec:     nc.RatePerSec,
		Timeout:        timeout,
		MirrorTelegram: nc.MirrorTelegram,
		Twilio: notifier.TwilioConfig{
			AccountSID:   cfg.Twilio.AccountSID,
			AuthToken:    cfg.Twilio.AuthToken,
			From:         cfg.Twilio.From,
			WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
			Channel:      ch,
		},
		Relay: notifier.RelayConfig{
			URL:     cfg.Relay.URL,
			Timeout: relayTimeout,
		},
		Telegram: notifier.TelegramConfig{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
			APIURL:   cfg.Telegram.APIURL,
		},
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	tick, err := reminder.ParseTick(rc.Tick)
	if err != nil {
		return reminder.Config{}, fmt.Errorf("reminders.tick: %w", err)
	}
	loc, err := config.ParseLocation("reminders.timezone", rc.Timezone)
	if err != nil {
		return reminder.Config{}, err
	}
	dt, err := config.ParseDurationField("reminders.dispatch_timeout", rc.DispatchTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Key:             strings.TrimSpace(rc.StoreKey),
		Location:        loc,
		Tick:            tick,
		DispatchTimeout: dt,
	}, nil
}

type httpSettings struct {
	Enabled         bool
	Addr            string
	AllowOrigins    []string
	ShutdownTimeout time.Duration
	Pprof           bool
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	st, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return httpSettings{}, err
	}
	return httpSettings{
		Enabled:         cfg.HTTP.Enabled,
		Addr:            cfg.HTTP.Addr,
		AllowOrigins:    cfg.HTTP.AllowOrigins,
		ShutdownTimeout: st,
		Pprof:           cfg.HTTP.Pprof,
	}, nil
}

// validateConfig rejects a config that NewApp or a hot reload could not apply.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		return fmt.Errorf("logging.level: unknown %q", cfg.Logging.Level)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
