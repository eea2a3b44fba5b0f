package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

const (
	defaultRatePerSec = 3
	defaultTimeout    = 20 * time.Second
)

// Service rate-limits and time-bounds calls to a driver.
//
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	driver  reminder.Notifier
	name    string
	cfg     Config
	limiter *rate.Limiter
}

// Build creates the driver named by cfg.Driver, optionally mirrored to
// Telegram, and wraps it in a Service.
func Build(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" {
		name = DriverLog
	}

	var (
		d   reminder.Notifier
		err error
	)
	switch name {
	case DriverTwilio:
		d, err = NewTwilio(cfg.Twilio, log)
	case DriverRelay:
		d, err = NewRelay(cfg.Relay)
	case DriverLog:
		d = NewLog(log)
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MirrorTelegram {
		tg, err := NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("telegram mirror: %w", err)
		}
		d = NewMirror(d, tg, log)
		name += "+telegram"
	}
	return New(cfg, d, name, log), nil
}

func New(cfg Config, driver reminder.Notifier, name string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		driver: driver,
		name:   name,
	}
	s.applyLocked(cfg)
	return s
}

// Driver names the underlying driver chain, e.g. "twilio+telegram".
func (s *Service) Driver() string { return s.name }

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates the enabled flag, rate and timeout. The driver itself is
// fixed at Build time.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	d := s.driver
	s.mu.Unlock()

	if !cfg.Enabled {
		return reminder.Receipt{}, ErrDisabled
	}
	if d == nil {
		return reminder.Receipt{}, ErrNotConfigured
	}
	if err := lim.Wait(ctx); err != nil {
		return reminder.Receipt{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	start := time.Now()
	rc, err := d.SendReminder(callCtx, ev, phone)
	if err != nil {
		s.log.Debug("send failed", logx.String("event_id", ev.ID), logx.Duration("took", time.Since(start)), logx.Err(err))
		return rc, err
	}
	s.log.Debug("send ok", logx.String("event_id", ev.ID), logx.String("channel", rc.Channel), logx.Duration("took", time.Since(start)))
	return rc, nil
}

// Mirror delivers through primary and copies successful deliveries to
// secondary. Only the primary result counts.
type Mirror struct {
	primary   reminder.Notifier
	secondary reminder.Notifier
	log       logx.Logger
}

func NewMirror(primary, secondary reminder.Notifier, log logx.Logger) *Mirror {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mirror{primary: primary, secondary: secondary, log: log.With(logx.String("comp", "notifier.mirror"))}
}

func (m *Mirror) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	rc, err := m.primary.SendReminder(ctx, ev, phone)
	if err != nil {
		return rc, err
	}
	if _, merr := m.secondary.SendReminder(ctx, ev, phone); merr != nil {
		m.log.Warn("mirror send failed", logx.String("event_id", ev.ID), logx.Err(merr))
	}
	return rc, nil
}
