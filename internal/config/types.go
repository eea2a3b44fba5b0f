package config

// Config is the daemon configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"). Secrets may be left empty and supplied through the
// environment (see ApplyEnv).
type Config struct {
	Logging   LoggingConfig  `json:"logging"`
	Storage   StorageConfig  `json:"storage"`
	Reminders ReminderConfig `json:"reminders"`
	Notifier  NotifierConfig `json:"notifier"`
	Twilio    TwilioConfig   `json:"twilio"`
	Telegram  TelegramConfig `json:"telegram"`
	Relay     RelayConfig    `json:"relay"`
	HTTP      HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`                 // memory | file | sqlite | postgres
	Path        string `json:"path,omitempty"`         // file, sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres; DB_URL overrides
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// ReminderConfig controls the scheduler.
//
// Enabled is a pointer so an omitted key defaults to true.
//
// Defaults:
//   - tick: "@every 1m"
//   - timezone: process local time
//   - store_key: "scheduled_reminders"
//   - dispatch_timeout: "30s"
type ReminderConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	Tick            string `json:"tick,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	StoreKey        string `json:"store_key,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
}

func (r ReminderConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// NotifierConfig selects the delivery driver.
//
// Enabled is a pointer so an omitted key defaults to true.
type NotifierConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Driver         string `json:"driver"` // twilio | relay | log
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	MirrorTelegram bool   `json:"mirror_telegram,omitempty"`
}

func (n NotifierConfig) IsEnabled() bool { return n.Enabled == nil || *n.Enabled }

type TwilioConfig struct {
	AccountSID   string `json:"account_sid,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"` // do not log
	From         string `json:"from,omitempty"`
	WhatsAppFrom string `json:"whatsapp_from,omitempty"`
	Channel      string `json:"channel,omitempty"` // sms | whatsapp
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// RelayConfig points at a remote /api/reminder endpoint.
type RelayConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// HTTPConfig controls the HTTP API.
//
// Security note: the API has no authentication; bind it to a private
// interface or put it behind a proxy.
type HTTPConfig struct {
	Enabled         bool     `json:"enabled"`
	Addr            string   `json:"addr,omitempty"` // default ":8080"
	AllowOrigins    []string `json:"allow_origins,omitempty"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}
