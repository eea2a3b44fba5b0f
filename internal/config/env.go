package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables overlaid onto the file config. A set variable wins
// over the file value.
const (
	EnvTwilioAccountSID  = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken   = "TWILIO_AUTH_TOKEN"
	EnvTwilioPhoneNumber = "TWILIO_PHONE_NUMBER"
	EnvTwilioWhatsApp    = "TWILIO_WHATSAPP_NUMBER"
	EnvTelegramToken     = "TELEGRAM_TOKEN"
	EnvDatabaseURL       = "DB_URL"
	EnvRelayURL          = "REMINDD_RELAY_URL"
	EnvPort              = "PORT"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and deployment settings from getenv onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Twilio.AccountSID, EnvTwilioAccountSID)
	set(&cfg.Twilio.AuthToken, EnvTwilioAuthToken)
	set(&cfg.Twilio.From, EnvTwilioPhoneNumber)
	set(&cfg.Twilio.WhatsAppFrom, EnvTwilioWhatsApp)
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Storage.DSN, EnvDatabaseURL)
	set(&cfg.Relay.URL, EnvRelayURL)
	if port := strings.TrimSpace(getenv(EnvPort)); port != "" {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(port, ":")
	}
}
