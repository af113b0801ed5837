package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/coinwhistle/sentinel/alert"
	"github.com/coinwhistle/sentinel/common"
	"github.com/coinwhistle/sentinel/render"
	"github.com/coinwhistle/sentinel/userconfig"
)

// CooldownClearer is the subset of alert.Engine the dispatcher needs to
// clear cooldown state on mute. Implemented by *alert.Engine.
type CooldownClearer interface {
	ClearCooldown(userID, symbol string)
}

const (
	outboundQueueSize   = 4096
	outboundMinInterval = 50 * time.Millisecond // caps sends at ~20/s
	sendRetries         = 3
	sendRetryPause      = time.Second
)

// outboundJob is one queued send for a non-primary channel.
type outboundJob struct {
	channel Channel
	userID  string
	subject string
	body    string
}

// rateLimiter paces the outbound worker at >=outboundMinInterval spacing.
type rateLimiter struct {
	mu          sync.Mutex
	lastSend    time.Time
	minInterval time.Duration
}

func (r *rateLimiter) wait() {
	r.mu.Lock()
	since := time.Since(r.lastSend)
	if since < r.minInterval {
		sleep := r.minInterval - since
		r.mu.Unlock()
		time.Sleep(sleep)
		r.mu.Lock()
	}
	r.lastSend = time.Now()
	r.mu.Unlock()
}

// Dispatcher implements alert.Sink: it transforms fired alerts into
// outbound sends, drives repeat cycles, and owns mute state.
type Dispatcher struct {
	store    *userconfig.Store
	cooldown CooldownClearer
	chat     Channel
	email    Channel
	clock    common.Clock
	logger   zerolog.Logger

	pending   *PendingRegistry
	confirmed *ConfirmedRegistry
	mutes     *MuteTable

	outbound chan outboundJob
	limiter  rateLimiter
}

// NewDispatcher wires the dispatcher to its collaborators. chat is
// required; email may be nil if the deployment has no SMTP configured.
func NewDispatcher(store *userconfig.Store, cooldown CooldownClearer, chat, email Channel, clock common.Clock, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		cooldown:  cooldown,
		chat:      chat,
		email:     email,
		clock:     clock,
		logger:    logger,
		pending:   NewPendingRegistry(),
		confirmed: NewConfirmedRegistry(),
		mutes:     NewMuteTable(),
		outbound:  make(chan outboundJob, outboundQueueSize),
		limiter:   rateLimiter{minInterval: outboundMinInterval},
	}
}

// Run drives the outbound rate limiter, repeat loop, and mute sweeper until
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); d.outboundWorker(ctx) }()
	go func() { defer wg.Done(); d.repeatLoop(ctx) }()
	go func() { defer wg.Done(); d.muteSweeper(ctx) }()
	wg.Wait()
}

// OnAlert is the alert.Sink entrypoint: the first send attempt for a
// freshly fired alert.
func (d *Dispatcher) OnAlert(a *alert.Alert, userID string) {
	u, ok := d.store.Get(userID)
	if !ok || !u.Active {
		return
	}

	now := d.clock.Now()
	mode := effectiveMode(u, now)
	_, _, channels := effectiveRepeatParams(u, now)

	d.send(a, u, channels)

	if mode == common.DispatchRepeat {
		d.pending.Add(userID, a)
	}
}

// send performs one delivery attempt across every effective channel: chat
// sends directly so alerts bypass generic-message rate limiting; other
// channels are queued. The returned error reflects the direct chat send
// only; queued sends report through the outbound worker's own logging.
func (d *Dispatcher) send(a *alert.Alert, u *userconfig.UserConfig, channels []common.Channel) error {
	a.SentCount++
	a.LastSent = d.clock.Now()
	a.Status = common.StatusSent

	subject := render.Subject(a)
	body := render.Body(a)

	var chatErr error
	for _, ch := range channels {
		switch ch {
		case common.ChannelChat:
			if d.chat == nil {
				continue
			}
			if err := d.sendWithRetry(context.Background(), d.chat, u.UserID, subject, body); err != nil {
				d.logger.Error().Err(err).Str("user", u.UserID).Str("alert", a.ID).Msg("chat send exhausted retries")
				chatErr = err
			}
		case common.ChannelEmail:
			if d.email == nil || u.Email.ToAddress == "" {
				continue
			}
			select {
			case d.outbound <- outboundJob{channel: d.email, userID: u.Email.ToAddress, subject: subject, body: body}:
			default:
				d.logger.Warn().Str("user", u.UserID).Msg("outbound queue full, dropping email send")
			}
		}
	}
	return chatErr
}

func (d *Dispatcher) outboundWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.outbound:
			d.limiter.wait()
			if err := d.sendWithRetry(ctx, job.channel, job.userID, job.subject, job.body); err != nil {
				d.logger.Error().Err(err).Str("user", job.userID).Msg("queued send exhausted retries")
			}
		}
	}
}

// sendWithRetry implements the per-channel error policy: permission
// denial deactivates the user and fails immediately; a timeout is treated as
// probable success; transient errors retry up to sendRetries times with
// sendRetryPause spacing.
func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, userID, subject, body string) error {
	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		err := ch.Send(ctx, userID, subject, body)
		if err == nil {
			return nil
		}

		var permErr *common.PermissionDeniedError
		if errors.As(err, &permErr) {
			if setErr := d.store.SetActive(userID, false); setErr != nil {
				d.logger.Warn().Err(setErr).Str("user", userID).Msg("failed to deactivate user after permission denial")
			}
			return err
		}

		var timeoutErr *common.RecipientTimeoutError
		if errors.As(err, &timeoutErr) {
			d.logger.Warn().Str("user", userID).Msg("recipient send timed out, treating as delivered")
			return nil
		}

		lastErr = err
		d.logger.Warn().Err(err).Int("attempt", attempt).Str("user", userID).Msg("transient send failure")
		if attempt < sendRetries {
			time.Sleep(sendRetryPause)
		}
	}
	return lastErr
}

// Confirm records alertID as acknowledged by userID, removing it from
// pending.
func (d *Dispatcher) Confirm(userID, alertID string) {
	a, ok := d.pending.Get(userID, alertID)
	if !ok {
		return
	}
	a.Status = common.StatusConfirmed
	a.ConfirmedAt = d.clock.Now()
	d.confirmed.Confirm(userID, alertID)
	d.pending.Remove(userID, alertID)
}

// repeatLoop checks pending alerts every 5 seconds, resending each one whose
// effective repeat interval has elapsed and dropping alerts whose user deactivated, whose symbol is muted, whose
// alert confirmed, or whose repeat budget is exhausted. Scheduled with
// robfig/cron, the way the market feed's refresher and the stream client's
// heartbeat are.
func (d *Dispatcher) repeatLoop(ctx context.Context) {
	cr := cron.New(cron.WithSeconds())
	_, _ = cr.AddFunc("*/5 * * * * *", func() {
		if ctx.Err() != nil {
			return
		}
		d.repeatOnce()
	})
	cr.Start()
	<-ctx.Done()
	cr.Stop()
}

func (d *Dispatcher) repeatOnce() {
	now := d.clock.Now()

	for _, item := range d.pending.Snapshot() {
		userID, a := item.UserID, item.Alert

		u, ok := d.store.Get(userID)
		if !ok || !u.Active {
			d.pending.Remove(userID, a.ID)
			continue
		}
		if d.confirmed.IsConfirmed(userID, a.ID) {
			d.pending.Remove(userID, a.ID)
			continue
		}
		if d.mutes.IsMuted(userID, a.Symbol, now) {
			d.pending.Remove(userID, a.ID)
			continue
		}

		interval, maxRepeats, channels := effectiveRepeatParams(u, now)
		if a.SentCount >= maxRepeats {
			d.pending.Remove(userID, a.ID)
			continue
		}
		if now.Sub(a.LastSent) < time.Duration(interval)*time.Second {
			continue
		}

		// A failed transport send drops the alert from pending.
		if err := d.send(a, u, channels); err != nil {
			d.pending.Remove(userID, a.ID)
		}
	}
}

// Mute suppresses symbol for userID for the next minutes minutes: adds to
// the blacklist, purges pending alerts for the symbol (marking them
// confirmed), clears cooldown state, and records the expiry.
func (d *Dispatcher) Mute(userID, symbol string, minutes int) error {
	if err := d.store.Mute(userID, symbol); err != nil {
		return err
	}

	for _, a := range d.pending.RemoveAllForSymbol(userID, symbol) {
		a.Status = common.StatusConfirmed
		a.ConfirmedAt = d.clock.Now()
		d.confirmed.Confirm(userID, a.ID)
	}

	d.cooldown.ClearCooldown(userID, symbol)
	d.mutes.Add(userID, symbol, d.clock.Now().Add(time.Duration(minutes)*time.Minute))
	return nil
}

// Unmute removes symbol from userID's blacklist immediately, outside of the
// sweeper's normal expiry path (e.g. an explicit user command).
func (d *Dispatcher) Unmute(userID, symbol string) error {
	d.mutes.Remove(userID, symbol)
	return d.store.Unmute(userID, symbol)
}

// muteSweeper restores expired mutes once a minute, sending one restore
// notification per symbol.
func (d *Dispatcher) muteSweeper(ctx context.Context) {
	cr := cron.New(cron.WithSeconds())
	_, _ = cr.AddFunc("0 * * * * *", func() {
		if ctx.Err() != nil {
			return
		}
		d.sweepOnce()
	})
	cr.Start()
	<-ctx.Done()
	cr.Stop()
}

func (d *Dispatcher) sweepOnce() {
	now := d.clock.Now()
	for _, entry := range d.mutes.Expired(now) {
		if err := d.store.Unmute(entry.UserID, entry.Symbol); err != nil {
			d.logger.Warn().Err(err).Str("user", entry.UserID).Str("symbol", entry.Symbol).Msg("failed to unmute expired entry")
			continue
		}
		d.mutes.Remove(entry.UserID, entry.Symbol)

		if d.chat == nil {
			continue
		}
		body := render.MuteRestoreBody(entry.Symbol)
		if err := d.sendWithRetry(context.Background(), d.chat, entry.UserID, "alerts resumed", body); err != nil {
			d.logger.Warn().Err(err).Str("user", entry.UserID).Msg("restore notification failed")
		}
	}
}

var _ alert.Sink = (*Dispatcher)(nil)
