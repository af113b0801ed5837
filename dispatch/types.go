// Package dispatch turns fired alerts into outbound sends: bounded-rate
// queueing, per-channel fan-out with retry, repeat cycles until
// acknowledged, and symbol-scoped mute with auto-expiry.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/coinwhistle/sentinel/alert"
)

// Channel abstracts one outbound transport. The chat channel is the
// required primary; email is optional SMTP/STARTTLS.
type Channel interface {
	Send(ctx context.Context, userID, subject, body string) error
}

// PendingRegistry is `pending[user_id][alert_id] -> Alert`. An alert
// enters pending iff its effective mode at fire time was REPEAT.
type PendingRegistry struct {
	mu     sync.Mutex
	byUser map[string]map[string]*alert.Alert
}

// NewPendingRegistry constructs an empty registry.
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{byUser: make(map[string]map[string]*alert.Alert)}
}

// Add inserts a into the registry for userID.
func (r *PendingRegistry) Add(userID string, a *alert.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*alert.Alert)
	}
	r.byUser[userID][a.ID] = a
}

// Get returns the pending alert for (userID, alertID), if any.
func (r *PendingRegistry) Get(userID, alertID string) (*alert.Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	a, ok := m[alertID]
	return a, ok
}

// Remove drops (userID, alertID) from the registry.
func (r *PendingRegistry) Remove(userID, alertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(m, alertID)
	if len(m) == 0 {
		delete(r.byUser, userID)
	}
}

// RemoveAllForSymbol drops and returns every pending alert for (userID,
// symbol), used by the mute handler.
func (r *PendingRegistry) RemoveAllForSymbol(userID, symbol string) []*alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	var removed []*alert.Alert
	for id, a := range m {
		if a.Symbol == symbol {
			removed = append(removed, a)
			delete(m, id)
		}
	}
	if len(m) == 0 {
		delete(r.byUser, userID)
	}
	return removed
}

// Snapshot returns a copy of every (userID, alert) pair currently pending,
// for the repeat loop to iterate without holding the registry lock.
func (r *PendingRegistry) Snapshot() []struct {
	UserID string
	Alert  *alert.Alert
} {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]struct {
		UserID string
		Alert  *alert.Alert
	}, 0)
	for userID, m := range r.byUser {
		for _, a := range m {
			out = append(out, struct {
				UserID string
				Alert  *alert.Alert
			}{UserID: userID, Alert: a})
		}
	}
	return out
}

// ConfirmedRegistry tracks, per user, the set of acknowledged alert ids.
type ConfirmedRegistry struct {
	mu  sync.Mutex
	ids map[string]map[string]struct{}
}

// NewConfirmedRegistry constructs an empty registry.
func NewConfirmedRegistry() *ConfirmedRegistry {
	return &ConfirmedRegistry{ids: make(map[string]map[string]struct{})}
}

// Confirm records alertID as acknowledged by userID.
func (r *ConfirmedRegistry) Confirm(userID, alertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[userID] == nil {
		r.ids[userID] = make(map[string]struct{})
	}
	r.ids[userID][alertID] = struct{}{}
}

// IsConfirmed reports whether alertID has been acknowledged by userID.
func (r *ConfirmedRegistry) IsConfirmed(userID, alertID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[userID][alertID]
	return ok
}

// MuteTable holds per-(user, symbol) mute expiry timestamps; absence of an
// entry means not muted.
type MuteTable struct {
	mu      sync.Mutex
	expires map[muteKey]time.Time
}

// muteKey identifies one (user, symbol) mute entry.
type muteKey struct {
	UserID string
	Symbol string
}

// NewMuteTable constructs an empty mute table.
func NewMuteTable() *MuteTable {
	return &MuteTable{expires: make(map[muteKey]time.Time)}
}

// Add records a mute for (userID, symbol) expiring at expiry.
func (m *MuteTable) Add(userID, symbol string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[muteKey{UserID: userID, Symbol: symbol}] = expiry
}

// Remove drops the mute entry for (userID, symbol).
func (m *MuteTable) Remove(userID, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, muteKey{UserID: userID, Symbol: symbol})
}

// IsMuted reports whether (userID, symbol) currently has an unexpired mute
// entry.
func (m *MuteTable) IsMuted(userID, symbol string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.expires[muteKey{UserID: userID, Symbol: symbol}]
	return ok && now.Before(expiry)
}

// muteEntry is one (user, symbol) pair whose mute has expired, returned by
// Expired.
type muteEntry struct {
	UserID string
	Symbol string
}

// Expired returns every (userID, symbol) whose mute expiry is at or before
// now, for the sweeper to restore.
func (m *MuteTable) Expired(now time.Time) []muteEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []muteEntry
	for key, expiry := range m.expires {
		if !now.Before(expiry) {
			out = append(out, muteEntry{UserID: key.UserID, Symbol: key.Symbol})
		}
	}
	return out
}
