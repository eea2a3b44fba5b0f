package notifier

import (
	"errors"
	"time"
)

var (
	// ErrRejected means the provider answered but did not accept the message.
	ErrRejected      = errors.New("notifier: message rejected")
	ErrInvalidPhone  = errors.New("notifier: invalid phone number")
	ErrNotConfigured = errors.New("notifier: driver not configured")
	ErrDisabled      = errors.New("notifier disabled")
)

const (
	DriverTwilio = "twilio"
	DriverRelay  = "relay"
	DriverLog    = "log"
)

const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelRelay    = "relay"
	ChannelLog      = "log"
)

// Config selects and tunes the delivery driver.
type Config struct {
	Enabled        bool
	Driver         string
	RatePerSec     int
	Timeout        time.Duration
	MirrorTelegram bool

	Twilio   TwilioConfig
	Relay    RelayConfig
	Telegram TelegramConfig
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	From         string // SMS sender number
	WhatsAppFrom string // WhatsApp sender number, without the "whatsapp:" prefix
	Channel      string // sms | whatsapp
}

type RelayConfig struct {
	URL     string
	Timeout time.Duration
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string // empty means the public Bot API
}

// ValidDriver reports whether s names a known driver.
func ValidDriver(s string) bool {
	switch s {
	case DriverTwilio, DriverRelay, DriverLog:
		return true
	}
	return false
}
