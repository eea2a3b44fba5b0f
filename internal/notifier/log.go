package notifier

import (
	"context"

	"github.com/google/uuid"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

// Log only writes reminders to the log.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "notifier.log"))}
}

func (l *Log) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return reminder.Receipt{}, err
	}
	id := uuid.NewString()
	l.log.Info("reminder",
		logx.String("message_id", id),
		logx.String("event_id", ev.ID),
		logx.String("to", phone),
		logx.String("body", FormatMessage(ev)))
	return reminder.Receipt{Channel: ChannelLog, MessageID: id}, nil
}
