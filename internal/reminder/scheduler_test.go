package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

const testPhone = "+15550001234"

type call struct {
	Event Event
	Phone string
}

type fakeNotifier struct {
	mu      sync.Mutex
	calls   []call
	fail    atomic.Bool
	panic   atomic.Bool
	gate    chan struct{} // when set, SendReminder blocks until closed
	entered chan struct{}
}

func (f *fakeNotifier) SendReminder(ctx context.Context, ev Event, phone string) (Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{Event: ev, Phone: phone})
	n := len(f.calls)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if f.panic.Load() {
		panic("boom")
	}
	if f.fail.Load() {
		return Receipt{}, errors.New("provider unavailable")
	}
	return Receipt{Channel: "sms", MessageID: fmt.Sprintf("SM%d", n)}, nil
}

func (f *fakeNotifier) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2024, 6, 1, hh, mm, ss, 0, time.UTC)
}

func testEvent(id string) Event {
	return Event{
		ID:          id,
		Title:       "Team sync",
		Date:        NewDate(2024, time.June, 1),
		Time:        "15:00",
		Type:        "meeting",
		Description: "Weekly sync",
		Location:    "Room 4",
	}
}

type harness struct {
	clock    *clock.Mock
	store    *storage.Memory
	notifier *fakeNotifier
	sched    *Scheduler
	metrics  *Metrics
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewMock(),
		store:    storage.NewMemory(),
		notifier: &fakeNotifier{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.clock.Set(now)
	h.sched = h.newScheduler(t)
	return h
}

func (h *harness) newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(Config{Location: time.UTC}, h.store, h.notifier, logx.Nop(),
		WithClock(h.clock), WithMetrics(h.metrics))
	require.NoError(t, err)
	return s
}

func (h *harness) persisted(t *testing.T) []Stored {
	t.Helper()
	return NewPersister(h.store, DefaultKey, logx.Nop()).Load(context.Background())
}

func TestScheduleComputesReminderTime(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))

	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))

	got := h.persisted(t)
	require.Len(t, got, 1)
	assert.Equal(t, at(14, 45, 0), got[0].ReminderTime)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.Equal(t, testPhone, got[0].PhoneNumber)
	assert.False(t, got[0].Sent)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Scheduled))
}

func TestScheduleRespectsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	mock := clock.NewMock()
	mock.Set(at(10, 0, 0))
	s, err := New(Config{Location: loc}, storage.NewMemory(), &fakeNotifier{}, logx.Nop(), WithClock(mock))
	require.NoError(t, err)

	require.True(t, s.Schedule(testEvent("evt-tz"), testPhone))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	// 15:00 at UTC+2 is 13:00 UTC.
	assert.Equal(t, at(12, 45, 0), snap[0].ReminderTime)
}

func TestScheduleRejectsPastReminderTime(t *testing.T) {
	h := newHarness(t, at(14, 50, 0))

	assert.False(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	assert.Empty(t, h.persisted(t))
	_, ok, err := h.store.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok, "nothing should be written")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejected))
}

func TestScheduleRejectsExactCutoff(t *testing.T) {
	h := newHarness(t, at(14, 45, 0))
	assert.False(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	assert.Empty(t, h.sched.Snapshot())
}

func TestScheduleRejectsInvalidTime(t *testing.T) {
	h := newHarness(t, at(9, 0, 0))
	ev := testEvent("evt-1")
	ev.Time = "3pm"
	assert.False(t, h.sched.Schedule(ev, testPhone))

	ev = testEvent("evt-2")
	ev.Date = Date{}
	assert.False(t, h.sched.Schedule(ev, testPhone))
	assert.Empty(t, h.persisted(t))
}

func TestScheduleAllowsDuplicates(t *testing.T) {
	h := newHarness(t, at(14, 0, 0))

	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))

	got := h.persisted(t)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].EventID, got[1].EventID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestTickDispatchesDueReminderOnce(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))

	// Not yet due.
	h.clock.Set(at(14, 44, 59))
	res := h.sched.Tick(context.Background())
	assert.Equal(t, 0, res.Due)
	assert.Empty(t, h.notifier.Calls())

	h.clock.Set(at(14, 45, 1))
	res = h.sched.Tick(context.Background())
	assert.Equal(t, TickResult{Due: 1, Sent: 1, Remaining: 1}, res)

	calls := h.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "evt-1", calls[0].Event.ID)
	assert.Equal(t, testPhone, calls[0].Phone)

	got := h.persisted(t)
	require.Len(t, got, 1)
	assert.True(t, got[0].Sent)

	// Later ticks never re-dispatch.
	for _, ts := range []time.Time{at(14, 46, 1), at(15, 30, 0), at(23, 0, 0)} {
		h.clock.Set(ts)
		h.sched.Tick(context.Background())
	}
	assert.Len(t, h.notifier.Calls(), 1)
	assert.True(t, h.persisted(t)[0].Sent)

	dispatches := h.store.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, storage.StatusSent, dispatches[0].Status)
	assert.Equal(t, "SM1", dispatches[0].MessageID)
}

func TestTickRetriesFailedDispatch(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	h.notifier.fail.Store(true)

	h.clock.Set(at(14, 45, 1))
	res := h.sched.Tick(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.False(t, h.persisted(t)[0].Sent)

	h.clock.Set(at(14, 46, 1))
	res = h.sched.Tick(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, h.notifier.Calls(), 2)

	h.notifier.fail.Store(false)
	h.clock.Set(at(14, 47, 1))
	res = h.sched.Tick(context.Background())
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, h.notifier.Calls(), 3)
	assert.True(t, h.persisted(t)[0].Sent)

	statuses := []string{}
	for _, d := range h.store.Dispatches() {
		statuses = append(statuses, d.Status)
	}
	assert.Equal(t, []string{storage.StatusFailed, storage.StatusFailed, storage.StatusSent}, statuses)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Dispatches.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Dispatches.WithLabelValues("sent")))
}

func TestTickRecoversNotifierPanic(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	h.notifier.panic.Store(true)

	h.clock.Set(at(14, 45, 1))
	var res TickResult
	require.NotPanics(t, func() { res = h.sched.Tick(context.Background()) })
	assert.Equal(t, 1, res.Failed)
	assert.False(t, h.sched.Snapshot()[0].Sent)
}

func TestTickSweepsExpiredReminders(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("sent"), testPhone))
	require.True(t, h.sched.Schedule(testEvent("unsent"), testPhone))

	h.clock.Set(at(14, 45, 1))
	// Deliver only the first one.
	h.sched.mu.Lock()
	h.sched.set[1].ReminderTime = at(23, 59, 0)
	h.sched.mu.Unlock()
	h.sched.Tick(context.Background())

	h.notifier.fail.Store(true)

	// Just under 24h after the 15:00 event both are retained.
	h.clock.Set(at(15, 0, 0).Add(Retention - time.Second))
	res := h.sched.Tick(context.Background())
	assert.Equal(t, 0, res.Pruned)
	assert.Len(t, h.persisted(t), 2)

	h.clock.Set(at(15, 0, 0).Add(Retention + time.Second))
	res = h.sched.Tick(context.Background())
	assert.Equal(t, 2, res.Pruned)
	assert.Equal(t, 0, res.Remaining)
	assert.Empty(t, h.persisted(t))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Pruned))
}

func TestTickSweepsEntriesWithInvalidTime(t *testing.T) {
	h := newHarness(t, at(9, 0, 0))
	bad := Stored{ID: "x", EventID: "evt-bad", PhoneNumber: testPhone, ReminderTime: at(23, 0, 0),
		Event: Event{ID: "evt-bad", Date: NewDate(2024, time.June, 1), Time: "noon"}}
	require.NoError(t, NewPersister(h.store, DefaultKey, logx.Nop()).Save(context.Background(), []Stored{bad}))

	s := h.newScheduler(t)
	require.Len(t, s.Snapshot(), 1)
	res := s.Tick(context.Background())
	assert.Equal(t, 1, res.Pruned)
	assert.Empty(t, h.persisted(t))
}

func TestTickPersistsUnconditionally(t *testing.T) {
	h := newHarness(t, at(9, 0, 0))
	_, ok, _ := h.store.Get(context.Background(), DefaultKey)
	require.False(t, ok)

	h.sched.Tick(context.Background())

	raw, ok, err := h.store.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)
}

func TestTickSkipsWhileBusy(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	h.notifier.gate = make(chan struct{})
	h.notifier.entered = make(chan struct{}, 1)
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	h.clock.Set(at(14, 45, 1))

	done := make(chan TickResult, 1)
	go func() { done <- h.sched.Tick(context.Background()) }()

	select {
	case <-h.notifier.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	// Schedule and Snapshot stay available during a dispatch.
	require.Len(t, h.sched.Snapshot(), 1)

	res := h.sched.Tick(context.Background())
	assert.True(t, res.Skipped)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksSkipped))

	close(h.notifier.gate)
	first := <-done
	assert.Equal(t, 1, first.Sent)
	assert.Len(t, h.notifier.Calls(), 1)
}

func TestNewHydratesFromStore(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))

	again := h.newScheduler(t)
	snap := again.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, at(14, 45, 0), snap[0].ReminderTime)
}

func TestNewMalformedStateStartsEmpty(t *testing.T) {
	for _, raw := range []string{"not json", `{"a":1}`, `[{"reminderTime":"yesterday"}]`, "null", ""} {
		store := storage.NewMemory()
		require.NoError(t, store.Set(context.Background(), DefaultKey, raw))
		s, err := New(Config{Location: time.UTC}, store, &fakeNotifier{}, logx.Nop())
		require.NoError(t, err)
		assert.Empty(t, s.Snapshot(), "raw=%q", raw)
	}
}

func TestPersisterRoundTrip(t *testing.T) {
	store := storage.NewMemory()
	p := NewPersister(store, "", logx.Nop())

	ev := testEvent("evt-1")
	ev.ContactEmail = "a@example.com"
	want := []Stored{
		{ID: "r1", EventID: "evt-1", PhoneNumber: testPhone, ReminderTime: at(14, 45, 0), Event: ev},
		{ID: "r2", EventID: "evt-2", PhoneNumber: "+447700900123", ReminderTime: at(8, 15, 0),
			Event: Event{ID: "evt-2", Title: "Dentist", Date: NewDate(2024, time.June, 1), Time: "08:30", Type: "personal"}, Sent: true},
	}
	require.NoError(t, p.Save(context.Background(), want))

	got := p.Load(context.Background())
	assert.Equal(t, want, got)
}

func TestPersisterAssignsMissingIDs(t *testing.T) {
	store := storage.NewMemory()
	raw := `[{"eventId":"evt-1","phoneNumber":"+15550001234","reminderTime":"2024-06-01T14:45:00.000Z",` +
		`"event":{"id":"evt-1","title":"Team sync","date":"2024-06-01T00:00:00.000Z","time":"15:00","type":"meeting","description":""},"sent":false}]`
	require.NoError(t, store.Set(context.Background(), DefaultKey, raw))

	got := NewPersister(store, DefaultKey, logx.Nop()).Load(context.Background())
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, NewDate(2024, time.June, 1), got[0].Event.Date.In(time.UTC))
	assert.Equal(t, at(14, 45, 0), got[0].ReminderTime)
}

func TestPersisterReassignsDuplicateIDs(t *testing.T) {
	store := storage.NewMemory()
	entry := func(eventID string) string {
		return `{"id":"dup","eventId":"` + eventID + `","phoneNumber":"+15550001234","reminderTime":"2024-06-01T14:45:00.000Z",` +
			`"event":{"id":"` + eventID + `","title":"Team sync","date":"2024-06-01","time":"15:00","type":"meeting","description":""},"sent":false}`
	}
	require.NoError(t, store.Set(context.Background(), DefaultKey, "["+entry("a")+","+entry("b")+"]"))

	got := NewPersister(store, DefaultKey, logx.Nop()).Load(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "dup", got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestTickMarksEachDuplicateIDEntrySent(t *testing.T) {
	h := newHarness(t, at(14, 0, 0))
	entry := func(eventID string) string {
		return `{"id":"dup","eventId":"` + eventID + `","phoneNumber":"+15550001234","reminderTime":"2024-06-01T14:45:00.000Z",` +
			`"event":{"id":"` + eventID + `","title":"Team sync","date":"2024-06-01","time":"15:00","type":"meeting","description":""},"sent":false}`
	}
	require.NoError(t, h.store.Set(context.Background(), DefaultKey, "["+entry("a")+","+entry("b")+"]"))
	h.sched = h.newScheduler(t)
	h.clock.Set(at(14, 46, 0))

	for i := 0; i < 3; i++ {
		h.sched.Tick(context.Background())
		h.clock.Add(time.Minute)
	}

	assert.Len(t, h.notifier.Calls(), 2)
	for _, r := range h.persisted(t) {
		assert.True(t, r.Sent, "event %s", r.EventID)
	}
}

// JavaScript writes event dates as UTC instants of local midnight; the day
// must come out in the scheduler's zone, not in UTC.
func TestTimestampDateResolvedInSchedulerZone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	store := storage.NewMemory()
	raw := `[{"id":"r1","eventId":"evt-1","phoneNumber":"+15550001234","reminderTime":"2024-06-01T12:45:00.000Z",` +
		`"event":{"id":"evt-1","title":"Showing","date":"2024-05-31T22:00:00.000Z","time":"15:00","type":"showing","description":""},"sent":false}]`
	require.NoError(t, store.Set(context.Background(), DefaultKey, raw))

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 15, 30, 0, 0, loc))
	n := &fakeNotifier{}
	s, err := New(Config{Location: loc}, store, n, logx.Nop(), WithClock(mock))
	require.NoError(t, err)

	res := s.Tick(context.Background())
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, res.Pruned)
	assert.Equal(t, 1, res.Remaining)

	calls := n.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, NewDate(2024, time.June, 1), calls[0].Event.Date)

	stored, _, err := store.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, stored, `"date":"2024-05-31T22:00:00.000Z"`)

	// Still retained until 24h after the event.
	mock.Set(time.Date(2024, 6, 2, 14, 59, 0, 0, loc))
	assert.Equal(t, 0, s.Tick(context.Background()).Pruned)
	mock.Set(time.Date(2024, 6, 2, 15, 0, 0, 0, loc))
	assert.Equal(t, 1, s.Tick(context.Background()).Pruned)

	stored, _, err = store.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", stored)
}

// Two schedulers sharing one store each write their full set; the last writer
// wins and the other reminder is lost.
func TestSharedStoreLostUpdate(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(at(14, 0, 0))
	store := storage.NewMemory()

	a, err := New(Config{Location: time.UTC}, store, &fakeNotifier{}, logx.Nop(), WithClock(mock))
	require.NoError(t, err)
	b, err := New(Config{Location: time.UTC}, store, &fakeNotifier{}, logx.Nop(), WithClock(mock))
	require.NoError(t, err)

	require.True(t, a.Schedule(testEvent("from-a"), testPhone))
	require.True(t, b.Schedule(testEvent("from-b"), testPhone))

	got := NewPersister(store, DefaultKey, logx.Nop()).Load(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "from-b", got[0].EventID)
}

func TestRunTicksOnSchedule(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))

	h.sched.Start(context.Background())
	defer h.sched.Stop()

	require.Eventually(t, func() bool {
		h.clock.Add(time.Minute)
		return len(h.notifier.Calls()) == 1 && h.sched.Snapshot()[0].Sent
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(h.metrics.Ticks), 1.0)
}

func TestStopHaltsTicks(t *testing.T) {
	h := newHarness(t, at(9, 0, 0))
	h.sched.Start(context.Background())

	require.Eventually(t, func() bool {
		h.clock.Add(time.Minute)
		return testutil.ToFloat64(h.metrics.Ticks) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	h.sched.Stop()
	h.sched.Stop() // second call is a no-op

	before := testutil.ToFloat64(h.metrics.Ticks)
	for i := 0; i < 5; i++ {
		h.clock.Add(time.Minute)
	}
	assert.Equal(t, before, testutil.ToFloat64(h.metrics.Ticks))
}

func TestStopDoesNotCancelInflightDispatch(t *testing.T) {
	h := newHarness(t, at(14, 30, 0))
	h.notifier.gate = make(chan struct{})
	h.notifier.entered = make(chan struct{}, 1)
	require.True(t, h.sched.Schedule(testEvent("evt-1"), testPhone))
	h.clock.Set(at(14, 44, 30))

	h.sched.Start(context.Background())
	require.Eventually(t, func() bool {
		h.clock.Add(time.Minute)
		select {
		case <-h.notifier.entered:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.sched.Stop()
		close(stopped)
	}()
	close(h.notifier.gate)
	<-stopped

	snap := h.sched.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Sent)
	assert.True(t, h.persisted(t)[0].Sent)
}
