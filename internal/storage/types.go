package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map, nothing survives a restart
//   - "file": JSON snapshot + JSON Lines dispatch log next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a process-wide string-keyed store. Set overwrites the previous value.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// DispatchLogger is implemented by stores that keep a dispatch history.
type DispatchLogger interface {
	AppendDispatch(ctx context.Context, r DispatchRecord) error
}

// DispatchRecord describes one notification attempt.
// Keep it compact and schema-stable.
type DispatchRecord struct {
	At         time.Time `json:"at"`
	ReminderID string    `json:"reminder_id"`
	EventID    string    `json:"event_id"`
	Phone      string    `json:"phone"`
	Channel    string    `json:"channel,omitempty"`
	Status     string    `json:"status"` // sent, failed
	MessageID  string    `json:"message_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)
