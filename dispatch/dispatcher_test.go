package dispatch

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/alert"
	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/userconfig"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeCooldownClearer struct {
	mu     sync.Mutex
	clears []string
}

func (f *fakeCooldownClearer) ClearCooldown(userID, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, userID+":"+symbol)
}

type recordingChat struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (r *recordingChat) Send(ctx context.Context, userID, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sends = append(r.sends, userID+"|"+body)
	return nil
}

func (r *recordingChat) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func newTestStore(t *testing.T) *userconfig.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := userconfig.Open(filepath.Join(dir, "users.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func baseUser(id string) *userconfig.UserConfig {
	return &userconfig.UserConfig{
		UserID:          id,
		Active:          true,
		Mode:            common.DispatchSingle,
		Channels:        []common.Channel{common.ChannelChat},
		CooldownSeconds: 300,
		Repeat:          userconfig.RepeatConfig{IntervalSeconds: 0, MaxRepeats: 0},
	}
}

func newAlert(id, symbol string) *alert.Alert {
	return &alert.Alert{
		ID:        id,
		Type:      common.AlertPricePump,
		Level:     common.LevelWarning,
		Symbol:    symbol,
		Market:    common.MarketSpot,
		Data:      alert.PriceData{ChangePercent: 7, HorizonMinutes: 1},
		Status:    common.StatusPending,
		Timestamp: time.Now(),
	}
}

// A REPEAT-mode user has a pending alert; muting the symbol clears it from
// pending and cooldown, and the sweeper sends exactly one restore
// notification once the mute expires.
func TestDispatcher_MuteClearsPendingAndRestoresOnce(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u1")
	u.Mode = common.DispatchRepeat
	u.Repeat = userconfig.RepeatConfig{IntervalSeconds: 60, MaxRepeats: 5}
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock := newFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	clearer := &fakeCooldownClearer{}
	chat := &recordingChat{}
	d := NewDispatcher(store, clearer, chat, nil, clock, zerolog.Nop())

	a := newAlert("a1", "BTCUSDT")
	d.OnAlert(a, "u1")

	if chat.count() != 1 {
		t.Fatalf("expected 1 immediate send, got %d", chat.count())
	}
	if _, ok := d.pending.Get("u1", "a1"); !ok {
		t.Fatalf("expected alert to be pending after REPEAT-mode fire")
	}

	if err := d.Mute("u1", "BTCUSDT", 30); err != nil {
		t.Fatalf("mute: %v", err)
	}

	if _, ok := d.pending.Get("u1", "a1"); ok {
		t.Fatalf("expected pending alert removed on mute")
	}
	if !d.confirmed.IsConfirmed("u1", "a1") {
		t.Fatalf("expected muted alert marked confirmed")
	}
	if len(clearer.clears) != 1 || clearer.clears[0] != "u1:BTCUSDT" {
		t.Fatalf("expected cooldown cleared for u1:BTCUSDT, got %v", clearer.clears)
	}
	if !d.mutes.IsMuted("u1", "BTCUSDT", clock.Now()) {
		t.Fatalf("expected symbol muted")
	}

	// Repeat loop must not resend while muted, even past the interval.
	clock.set(clock.Now().Add(2 * time.Minute))
	d.repeatOnce()
	if chat.count() != 1 {
		t.Fatalf("expected no resend while muted, got %d sends", chat.count())
	}

	// Expire the mute and sweep: exactly one restore notification.
	clock.set(clock.Now().Add(31 * time.Minute))
	d.sweepOnce()

	if d.mutes.IsMuted("u1", "BTCUSDT", clock.Now()) {
		t.Fatalf("expected mute entry removed after sweep")
	}
	if chat.count() != 2 {
		t.Fatalf("expected exactly one restore notification, got %d total sends", chat.count())
	}

	got, _ := store.Get("u1")
	if got.IsBlacklisted("BTCUSDT") {
		t.Fatalf("expected symbol unmuted in store after sweep")
	}

	d.sweepOnce()
	if chat.count() != 2 {
		t.Fatalf("expected sweeping an already-clear mute table to be a no-op, got %d sends", chat.count())
	}
}

// A SINGLE-mode user whose night window is active gets upgraded to REPEAT
// cadence with email added, and reverts once the window closes.
func TestDispatcher_NightWindowUpgradesToRepeatWithEmail(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u2")
	u.Email = userconfig.EmailConfig{Enabled: true, ToAddress: "u2@example.com"}
	u.Night = userconfig.NightWindow{
		Enabled:         true,
		StartHHMM:       "23:00",
		EndHHMM:         "07:00",
		IntervalSeconds: 120,
		MaxRepeats:      3,
		AddEmail:        true,
	}
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	// 23:30 UTC, tz offset 0 -> inside the wrap-past-midnight window.
	clock := newFakeClock(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC))
	clearer := &fakeCooldownClearer{}
	chat := &recordingChat{}
	d := NewDispatcher(store, clearer, chat, nil, clock, zerolog.Nop())

	a := newAlert("a2", "ETHUSDT")
	d.OnAlert(a, "u2")

	if _, ok := d.pending.Get("u2", "a2"); !ok {
		t.Fatalf("expected night-mode upgrade to REPEAT to register pending alert")
	}
	if _, _, nightChannels := effectiveRepeatParams(u, clock.Now()); !containsChannel(nightChannels, common.ChannelEmail) {
		t.Fatalf("expected email added to channels inside night window")
	}

	// 08:00 UTC the next "day" in wall-clock terms is outside the window;
	// effectiveRepeatParams should fall back to the base (disabled) repeat
	// config, so a stale pending alert stops resending.
	clock.set(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC))
	interval, maxRepeats, channels := effectiveRepeatParams(u, clock.Now())
	if interval != 0 || maxRepeats != 0 {
		t.Fatalf("expected base repeat config outside night window, got interval=%d maxRepeats=%d", interval, maxRepeats)
	}
	if containsChannel(channels, common.ChannelEmail) {
		t.Fatalf("expected no email augmentation outside night window")
	}
}

func TestDispatcher_SendWithRetry_PermissionDeniedDeactivatesNoRetry(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u3")
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock := newFakeClock(time.Now())
	d := NewDispatcher(store, &fakeCooldownClearer{}, nil, nil, clock, zerolog.Nop())

	calls := 0
	ch := channelFunc(func(ctx context.Context, userID, subject, body string) error {
		calls++
		return &common.PermissionDeniedError{UserID: userID}
	})

	err := d.sendWithRetry(context.Background(), ch, "u3", "s", "b")
	if err == nil {
		t.Fatalf("expected error returned")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt on permission denial, got %d", calls)
	}
	got, _ := store.Get("u3")
	if got.Active {
		t.Fatalf("expected user deactivated after permission denial")
	}
}

func TestDispatcher_SendWithRetry_TimeoutTreatedAsSuccessNoRetry(t *testing.T) {
	store := newTestStore(t)
	d := NewDispatcher(store, &fakeCooldownClearer{}, nil, nil, newFakeClock(time.Now()), zerolog.Nop())

	calls := 0
	ch := channelFunc(func(ctx context.Context, userID, subject, body string) error {
		calls++
		return &common.RecipientTimeoutError{UserID: userID}
	})

	if err := d.sendWithRetry(context.Background(), ch, "u4", "s", "b"); err != nil {
		t.Fatalf("expected timeout treated as success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt on timeout, got %d", calls)
	}
}

func TestDispatcher_SendWithRetry_TransientRetriesThenFails(t *testing.T) {
	store := newTestStore(t)
	d := NewDispatcher(store, &fakeCooldownClearer{}, nil, nil, newFakeClock(time.Now()), zerolog.Nop())
	d.limiter.minInterval = 0

	calls := 0
	ch := channelFunc(func(ctx context.Context, userID, subject, body string) error {
		calls++
		return &common.TransportError{Op: "send", Err: context.DeadlineExceeded}
	})

	start := time.Now()
	err := d.sendWithRetry(context.Background(), ch, "u5", "s", "b")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if calls != sendRetries {
		t.Fatalf("expected %d attempts, got %d", sendRetries, calls)
	}
	if elapsed < 2*sendRetryPause {
		t.Fatalf("expected at least 2 retry pauses between 3 attempts, elapsed %v", elapsed)
	}
}

func TestDispatcher_SendWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	store := newTestStore(t)
	d := NewDispatcher(store, &fakeCooldownClearer{}, nil, nil, newFakeClock(time.Now()), zerolog.Nop())

	calls := 0
	ch := channelFunc(func(ctx context.Context, userID, subject, body string) error {
		calls++
		if calls == 1 {
			return &common.TransportError{Op: "send", Err: context.DeadlineExceeded}
		}
		return nil
	})

	if err := d.sendWithRetry(context.Background(), ch, "u6", "s", "b"); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestDispatcher_Confirm_RemovesFromPending(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u7")
	u.Mode = common.DispatchRepeat
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	chat := &recordingChat{}
	d := NewDispatcher(store, &fakeCooldownClearer{}, chat, nil, newFakeClock(time.Now()), zerolog.Nop())

	a := newAlert("a7", "BNBUSDT")
	d.OnAlert(a, "u7")
	if _, ok := d.pending.Get("u7", "a7"); !ok {
		t.Fatalf("expected alert pending before confirm")
	}

	d.Confirm("u7", "a7")

	if _, ok := d.pending.Get("u7", "a7"); ok {
		t.Fatalf("expected alert removed from pending after confirm")
	}
	if !d.confirmed.IsConfirmed("u7", "a7") {
		t.Fatalf("expected alert recorded confirmed")
	}
	if a.Status != common.StatusConfirmed {
		t.Fatalf("expected alert status CONFIRMED, got %s", a.Status)
	}
}

func TestDispatcher_RepeatOnce_DropsWhenUserInactive(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u8")
	u.Mode = common.DispatchRepeat
	u.Repeat = userconfig.RepeatConfig{IntervalSeconds: 1, MaxRepeats: 5}
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock := newFakeClock(time.Now())
	chat := &recordingChat{}
	d := NewDispatcher(store, &fakeCooldownClearer{}, chat, nil, clock, zerolog.Nop())

	a := newAlert("a8", "SOLUSDT")
	d.OnAlert(a, "u8")

	u.Active = false
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock.set(clock.Now().Add(10 * time.Second))
	d.repeatOnce()

	if _, ok := d.pending.Get("u8", "a8"); ok {
		t.Fatalf("expected pending alert dropped after user deactivated")
	}
	if chat.count() != 1 {
		t.Fatalf("expected no resend after deactivation, got %d sends", chat.count())
	}
}

func TestDispatcher_RepeatOnce_DropsPendingOnFailedSend(t *testing.T) {
	store := newTestStore(t)
	u := baseUser("u9")
	u.Mode = common.DispatchRepeat
	u.Repeat = userconfig.RepeatConfig{IntervalSeconds: 1, MaxRepeats: 5}
	if err := store.Save(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	clock := newFakeClock(time.Now())
	chat := &recordingChat{}
	d := NewDispatcher(store, &fakeCooldownClearer{}, chat, nil, clock, zerolog.Nop())

	a := newAlert("a9", "DOTUSDT")
	d.OnAlert(a, "u9")
	if _, ok := d.pending.Get("u9", "a9"); !ok {
		t.Fatalf("expected alert pending after fire")
	}

	chat.err = &common.PermissionDeniedError{UserID: "u9"}
	clock.set(clock.Now().Add(10 * time.Second))
	d.repeatOnce()

	if _, ok := d.pending.Get("u9", "a9"); ok {
		t.Fatalf("expected pending alert dropped after failed transport send")
	}
}

type channelFunc func(ctx context.Context, userID, subject, body string) error

func (f channelFunc) Send(ctx context.Context, userID, subject, body string) error {
	return f(ctx, userID, subject, body)
}
