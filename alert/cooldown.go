package alert

import (
	"sync"
	"time"

	"github.com/coinwhistle/sentinel/common"
)

// cooldownKey keys the cooldown table by (user, symbol, alert type).
// Explicit insert/lookup on a composite key avoids accidental cell
// creation on read.
type cooldownKey struct {
	UserID string
	Symbol string
	Type   common.AlertType
}

// cooldownCell is the per-cell state: the last time this (user, symbol,
// type) fired and the level it fired at.
type cooldownCell struct {
	lastFiredAt time.Time
	lastLevel   common.AlertLevel
}

// CooldownTable is the alert engine's cooldown + severity-escalation state
// machine. It is the sole owner of fire/suppress
// decisions for every (user, symbol, alert_type) cell.
type CooldownTable struct {
	mu         sync.Mutex
	cells      map[cooldownKey]cooldownCell
	escalation int64
}

// NewCooldownTable constructs an empty cooldown table.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{cells: make(map[cooldownKey]cooldownCell)}
}

// Evaluate applies the cooldown/escalation rule to a
// candidate firing at (now, level) for the given identity, with the user's
// configured cooldown window:
//
//   - no cell, or now-lastFiredAt >= cooldown: fire, overwrite cell.
//   - else if level.Priority() > cell.lastLevel.Priority(): fire as
//     escalation, overwrite cell.
//   - else: suppress, cell untouched.
//
// Returns (fire, isEscalation).
func (t *CooldownTable) Evaluate(userID, symbol string, typ common.AlertType, now time.Time, level common.AlertLevel, cooldown time.Duration) (fire bool, isEscalation bool) {
	key := cooldownKey{UserID: userID, Symbol: symbol, Type: typ}

	t.mu.Lock()
	defer t.mu.Unlock()

	cell, exists := t.cells[key]
	if !exists || now.Sub(cell.lastFiredAt) >= cooldown {
		t.cells[key] = cooldownCell{lastFiredAt: now, lastLevel: level}
		return true, false
	}

	if level.Priority() > cell.lastLevel.Priority() {
		t.cells[key] = cooldownCell{lastFiredAt: now, lastLevel: level}
		t.escalation++
		return true, true
	}

	return false, false
}

// Clear drops every cell for (userID, symbol) across all alert types,
// called by the dispatcher's mute handler.
func (t *CooldownTable) Clear(userID, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.cells {
		if key.UserID == userID && key.Symbol == symbol {
			delete(t.cells, key)
		}
	}
}

// EscalationCount returns the running total of escalation-fires.
func (t *CooldownTable) EscalationCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.escalation
}
