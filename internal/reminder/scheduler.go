package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Receipt is the notifier's acknowledgement of a delivered reminder.
type Receipt struct {
	Channel   string
	MessageID string
}

// Notifier delivers one reminder. A nil error is a successful delivery.
type Notifier interface {
	SendReminder(ctx context.Context, ev Event, phone string) (Receipt, error)
}

// DefaultDispatchTimeout bounds a single notifier call.
const DefaultDispatchTimeout = 30 * time.Second

type Config struct {
	Key             string         // store key; DefaultKey when empty
	Location        *time.Location // event wall-clock zone; time.Local when nil
	Tick            cron.Schedule  // DefaultTick when nil
	DispatchTimeout time.Duration
}

type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithIDFunc replaces the reminder id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped   bool
	Due       int
	Sent      int
	Failed    int
	Pruned    int
	Remaining int
}

// Scheduler owns the reminder working set. Schedule and Snapshot are safe for
// concurrent use; ticks are serialized and a tick that finds another one
// running is skipped.
type Scheduler struct {
	cfg      Config
	log      logx.Logger
	clock    clock.Clock
	metrics  *Metrics
	newID    func() string
	notifier Notifier
	persist  *Persister
	dlog     storage.DispatchLogger

	mu        sync.Mutex // guards set and every Save
	set       []Stored
	tickMu    sync.Mutex
	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New builds a scheduler and hydrates it from store.
func New(cfg Config, store storage.Store, n Notifier, log logx.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("reminder: store is required")
	}
	if n == nil {
		return nil, errors.New("reminder: notifier is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Tick == nil {
		sched, err := ParseTick(DefaultTick)
		if err != nil {
			return nil, err
		}
		cfg.Tick = sched
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}

	s := &Scheduler{
		cfg:      cfg,
		log:      log.With(logx.String("comp", "scheduler")),
		clock:    clock.New(),
		newID:    uuid.NewString,
		notifier: n,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.persist = NewPersister(store, cfg.Key, s.log)
	if dl, ok := store.(storage.DispatchLogger); ok {
		s.dlog = dl
	}

	s.set = s.persist.Load(context.Background())
	s.metrics.setPending(countPending(s.set))
	s.log.Info("reminders loaded", logx.Int("count", len(s.set)), logx.String("key", s.persist.Key()))
	return s, nil
}

// Schedule registers a reminder LeadTime before ev. It returns false, without
// touching the set, when that moment is not strictly in the future or the
// event time cannot be parsed. Duplicate event ids are accepted.
func (s *Scheduler) Schedule(ev Event, phone string) bool {
	at, err := ReminderTime(ev, s.cfg.Location)
	if err != nil {
		s.log.Debug("schedule rejected", logx.String("event_id", ev.ID), logx.Err(err))
		s.metrics.scheduled(false)
		return false
	}
	now := s.clock.Now()
	if !at.After(now) {
		s.log.Debug("schedule rejected; reminder time passed",
			logx.String("event_id", ev.ID), logx.Time("reminder_time", at))
		s.metrics.scheduled(false)
		return false
	}

	r := Stored{
		ID:           s.newID(),
		EventID:      ev.ID,
		PhoneNumber:  strings.TrimSpace(phone),
		ReminderTime: at.UTC(),
		Event:        ev,
	}

	s.mu.Lock()
	s.set = append(s.set, r)
	pending := countPending(s.set)
	s.saveLocked(context.Background())
	s.mu.Unlock()

	s.metrics.scheduled(true)
	s.metrics.setPending(pending)
	s.log.Info("reminder scheduled",
		logx.String("id", r.ID), logx.String("event_id", r.EventID), logx.Time("reminder_time", r.ReminderTime))
	return true
}

// Location is the zone event wall-clock times are read in.
func (s *Scheduler) Location() *time.Location { return s.cfg.Location }

// Snapshot returns a copy of the working set.
func (s *Scheduler) Snapshot() []Stored {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stored, len(s.set))
	copy(out, s.set)
	return out
}

// Tick dispatches every unsent reminder whose time has come, then drops
// reminders whose event is Retention or more in the past and persists the set.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.tickMu.TryLock() {
		s.log.Debug("tick skipped; previous tick still running")
		s.metrics.tick(true, 0, 0)
		return TickResult{Skipped: true}
	}
	defer s.tickMu.Unlock()

	now := s.clock.Now()
	var res TickResult

	s.mu.Lock()
	var due []Stored
	for _, r := range s.set {
		if !r.Sent && !r.ReminderTime.After(now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()
	res.Due = len(due)

	for _, r := range due {
		if s.dispatch(ctx, r) {
			res.Sent++
			s.mu.Lock()
			s.markSentLocked(r.ID)
			s.saveLocked(ctx)
			s.mu.Unlock()
		} else {
			res.Failed++
		}
	}

	s.mu.Lock()
	kept := s.set[:0]
	for _, r := range s.set {
		if r.expired(now, s.cfg.Location) {
			res.Pruned++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.set); i++ {
		s.set[i] = Stored{}
	}
	s.set = kept
	res.Remaining = len(s.set)
	pending := countPending(s.set)
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.metrics.tick(false, res.Pruned, pending)
	if res.Due > 0 || res.Pruned > 0 {
		s.log.Info("tick done",
			logx.Int("due", res.Due), logx.Int("sent", res.Sent), logx.Int("failed", res.Failed),
			logx.Int("pruned", res.Pruned), logx.Int("remaining", res.Remaining))
	}
	return res
}

// Run wakes on the tick schedule until ctx is done. Each tick runs in its own
// goroutine so a slow notifier does not shift the cadence. Run returns after
// in-flight ticks finish.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	tickCtx := context.WithoutCancel(ctx)
	for {
		now := s.clock.Now()
		next := s.cfg.Tick.Next(now)
		if next.IsZero() {
			return errors.New("reminder: tick schedule has no next activation")
		}
		t := s.clock.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(tickCtx)
			}()
		}
	}
}

// Start runs the tick loop in the background. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.runCancel = cancel
	s.runDone = done
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			s.log.Error("tick loop stopped", logx.Err(err))
		}
	}()
	s.log.Info("scheduler started")
}

// Stop cancels future ticks and waits for the loop to exit. Dispatches already
// in flight complete.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.runCancel, s.runDone
	s.runCancel, s.runDone = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	start := time.Now()
	cancel()
	<-done
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Scheduler) dispatch(ctx context.Context, r Stored) (ok bool) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()

	start := s.clock.Now()
	receipt, err := s.callNotifier(dctx, r)
	took := s.clock.Since(start)
	ok = err == nil
	s.metrics.dispatched(ok, took)

	rec := storage.DispatchRecord{
		At:         start.UTC(),
		ReminderID: r.ID,
		EventID:    r.EventID,
		Phone:      r.PhoneNumber,
		Channel:    receipt.Channel,
		MessageID:  receipt.MessageID,
		Status:     storage.StatusSent,
		TookMS:     took.Milliseconds(),
	}
	if err != nil {
		rec.Status = storage.StatusFailed
		rec.Error = err.Error()
		s.log.Warn("reminder dispatch failed; will retry",
			logx.String("id", r.ID), logx.String("event_id", r.EventID), logx.Err(err))
	} else {
		s.log.Info("reminder sent",
			logx.String("id", r.ID), logx.String("event_id", r.EventID),
			logx.String("channel", receipt.Channel), logx.String("message_id", receipt.MessageID))
	}
	if s.dlog != nil {
		if lerr := s.dlog.AppendDispatch(dctx, rec); lerr != nil {
			s.log.Warn("dispatch log append failed", logx.Err(lerr))
		}
	}
	return ok
}

func (s *Scheduler) callNotifier(ctx context.Context, r Stored) (rc Receipt, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panic: %v", p)
		}
	}()
	// Notifiers render the calendar day, so hand them the day in our zone.
	ev := r.Event
	ev.Date = ev.Date.In(s.cfg.Location)
	return s.notifier.SendReminder(ctx, ev, r.PhoneNumber)
}

func (s *Scheduler) markSentLocked(id string) {
	for i := range s.set {
		if s.set[i].ID == id {
			s.set[i].Sent = true
			return
		}
	}
}

// saveLocked persists the set. Failures are logged; the next tick saves again.
func (s *Scheduler) saveLocked(ctx context.Context) {
	if err := s.persist.Save(ctx, s.set); err != nil {
		s.log.Error("persist reminders failed", logx.Err(err))
	}
}

func countPending(set []Stored) int {
	n := 0
	for _, r := range set {
		if !r.Sent {
			n++
		}
	}
	return n
}
