// Package credits meters per-store credit usage over monthly billing cycles.
package credits

import (
	"context"
	"time"
)

// Account is the credit state of a single store
type Account struct {
	StoreID string
	Limit   int64
	Used    int64
	// Anchor is the moment the subscription started; cycles repeat monthly from it
	Anchor time.Time
	// CycleStart is the start of the cycle Used belongs to
	CycleStart time.Time
}

// Usage is a point-in-time view of an account
type Usage struct {
	StoreID    string    `json:"store_id"`
	Used       int64     `json:"used"`
	Limit      int64     `json:"limit"`
	Remaining  int64     `json:"remaining"`
	Percent    float64   `json:"percent"`
	CycleStart time.Time `json:"cycle_start"`
	CycleEnd   time.Time `json:"cycle_end"`
	Exhausted  bool      `json:"exhausted"`
}

// Ledger persists accounts. Update must run fn atomically with respect to
// other updates of the same store and persist the account only when fn
// returns nil.
type Ledger interface {
	Get(ctx context.Context, storeID string) (Account, error)
	Update(ctx context.Context, storeID string, fn func(*Account) error) (Account, error)
}

// EventKind names a ledger change
type EventKind string

const (
	EventConsume  EventKind = "consume"
	EventRefund   EventKind = "refund"
	EventReset    EventKind = "reset"
	EventLimit    EventKind = "limit"
	EventRollover EventKind = "rollover"
)

// Event is an audit record of a ledger change
type Event struct {
	StoreID   string
	Kind      EventKind
	Amount    int64
	UsedAfter int64
	At        time.Time
}

// EventRecorder is implemented by ledgers that keep an audit trail
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev Event) error
}

// rollover starts a new cycle when now is past the account's cycle
func (a *Account) rollover(now time.Time) bool {
	if a.Anchor.IsZero() {
		a.Anchor = now
		a.CycleStart = now
		return false
	}
	current := CurrentCycleStart(a.Anchor, now)
	if current.After(a.CycleStart) {
		a.CycleStart = current
		a.Used = 0
		return true
	}
	return false
}

func (a Account) usage(now time.Time) Usage {
	start, end := CycleBounds(a.Anchor, now)
	if a.Anchor.IsZero() {
		start, end = now, CycleEnd(now)
	}
	u := Usage{
		StoreID:    a.StoreID,
		Used:       a.Used,
		Limit:      a.Limit,
		Remaining:  max(a.Limit-a.Used, 0),
		CycleStart: start,
		CycleEnd:   end,
	}
	u.Percent = percent(a.Used, a.Limit)
	u.Exhausted = u.Remaining == 0
	return u
}

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) * 100 / float64(limit)
}
