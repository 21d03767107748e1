package credits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ThresholdEvent is emitted when a consume moves usage across a threshold
type ThresholdEvent struct {
	StoreID   string
	Threshold float64
	Usage     Usage
}

// ThresholdHook receives threshold crossings. It runs after Consume has
// returned, one call at a time. Errors are logged by the meter.
type ThresholdHook func(ctx context.Context, ev ThresholdEvent) error

// Meter applies credit operations to a ledger
type Meter struct {
	ledger     Ledger
	now        func() time.Time
	thresholds []float64
	hook       ThresholdHook

	hookMu sync.Mutex
	hooks  sync.WaitGroup
}

type Option func(*Meter)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// WithThresholds sets the usage percentages that trigger the threshold hook
func WithThresholds(thresholds ...float64) Option {
	return func(m *Meter) {
		m.thresholds = append([]float64(nil), thresholds...)
		sort.Float64s(m.thresholds)
	}
}

// WithThresholdHook sets the hook called on threshold crossings
func WithThresholdHook(hook ThresholdHook) Option {
	return func(m *Meter) { m.hook = hook }
}

func NewMeter(ledger Ledger, opts ...Option) *Meter {
	m := &Meter{
		ledger:     ledger,
		now:        time.Now,
		thresholds: []float64{80, 100},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Consume charges amount credits to the store's current cycle. The account
// is left untouched and ErrInsufficientCredits returned when the remaining
// allowance is smaller than amount.
func (m *Meter) Consume(ctx context.Context, storeID string, amount int64) (Usage, error) {
	if amount <= 0 {
		return Usage{}, ErrInvalidAmount
	}
	now := m.now()
	var before float64
	var rolled bool

	acc, err := m.ledger.Update(ctx, storeID, func(a *Account) error {
		rolled = a.rollover(now)
		before = percent(a.Used, a.Limit)
		if a.Used+amount > a.Limit {
			return ErrInsufficientCredits
		}
		a.Used += amount
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return Usage{}, fmt.Errorf("store %s: %w", storeID, err)
		}
		return Usage{}, err
	}

	if rolled {
		m.record(ctx, Event{StoreID: storeID, Kind: EventRollover, UsedAfter: 0, At: now})
	}
	m.record(ctx, Event{StoreID: storeID, Kind: EventConsume, Amount: amount, UsedAfter: acc.Used, At: now})

	usage := acc.usage(now)
	m.dispatch(ctx, before, usage)
	return usage, nil
}

// Refund returns amount credits to the store's current cycle, never going below zero
func (m *Meter) Refund(ctx context.Context, storeID string, amount int64) (Usage, error) {
	if amount <= 0 {
		return Usage{}, ErrInvalidAmount
	}
	now := m.now()
	acc, err := m.ledger.Update(ctx, storeID, func(a *Account) error {
		// a refund after a rollover has nothing to give back
		if a.rollover(now) {
			return nil
		}
		a.Used = max(a.Used-amount, 0)
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	m.record(ctx, Event{StoreID: storeID, Kind: EventRefund, Amount: amount, UsedAfter: acc.Used, At: now})
	return acc.usage(now), nil
}

// Status returns the current usage without writing. An expired cycle is
// reported as already rolled over.
func (m *Meter) Status(ctx context.Context, storeID string) (Usage, error) {
	acc, err := m.ledger.Get(ctx, storeID)
	if err != nil {
		return Usage{}, err
	}
	now := m.now()
	acc.rollover(now)
	return acc.usage(now), nil
}

// Reset clears usage and starts a new cycle anchored at the current time
func (m *Meter) Reset(ctx context.Context, storeID string) (Usage, error) {
	now := m.now()
	acc, err := m.ledger.Update(ctx, storeID, func(a *Account) error {
		a.Used = 0
		a.Anchor = now
		a.CycleStart = now
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	m.record(ctx, Event{StoreID: storeID, Kind: EventReset, At: now})
	return acc.usage(now), nil
}

// SetLimit changes the store's allowance per cycle. Usage already above the
// new limit is kept; further consumes fail until the next cycle.
func (m *Meter) SetLimit(ctx context.Context, storeID string, limit int64) (Usage, error) {
	if limit < 0 {
		return Usage{}, ErrInvalidLimit
	}
	now := m.now()
	acc, err := m.ledger.Update(ctx, storeID, func(a *Account) error {
		a.rollover(now)
		a.Limit = limit
		return nil
	})
	if err != nil {
		return Usage{}, err
	}
	m.record(ctx, Event{StoreID: storeID, Kind: EventLimit, Amount: limit, UsedAfter: acc.Used, At: now})
	return acc.usage(now), nil
}

// Wait blocks until every dispatched threshold hook has returned
func (m *Meter) Wait() {
	m.hooks.Wait()
}

func (m *Meter) dispatch(ctx context.Context, before float64, usage Usage) {
	if m.hook == nil || !m.crossed(before, usage.Percent) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	m.hooks.Add(1)
	go func() {
		defer m.hooks.Done()
		m.hookMu.Lock()
		defer m.hookMu.Unlock()
		m.notifyCrossed(ctx, before, usage)
	}()
}

func (m *Meter) crossed(before, after float64) bool {
	for _, t := range m.thresholds {
		if before < t && after >= t {
			return true
		}
	}
	return false
}

func (m *Meter) notifyCrossed(ctx context.Context, before float64, usage Usage) {
	for _, t := range m.thresholds {
		if before < t && usage.Percent >= t {
			ev := ThresholdEvent{StoreID: usage.StoreID, Threshold: t, Usage: usage}
			if err := m.hook(ctx, ev); err != nil {
				log.Warn().Err(err).Str("store_id", usage.StoreID).Float64("threshold", t).Msg("credit threshold hook failed")
			}
		}
	}
}

func (m *Meter) record(ctx context.Context, ev Event) {
	rec, ok := m.ledger.(EventRecorder)
	if !ok {
		return
	}
	if err := rec.RecordEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("store_id", ev.StoreID).Str("kind", string(ev.Kind)).Msg("failed to record credit event")
	}
}
