package credits

import (
	"context"
	"sync"
)

// MemoryLedger keeps accounts in process memory
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]Account
	events   []Event
}

func NewMemoryLedger(accounts ...Account) *MemoryLedger {
	l := &MemoryLedger{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		l.accounts[a.StoreID] = a
	}
	return l
}

func (l *MemoryLedger) Get(_ context.Context, storeID string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[storeID]
	if !ok {
		return Account{}, ErrStoreNotFound
	}
	return acc, nil
}

func (l *MemoryLedger) Update(_ context.Context, storeID string, fn func(*Account) error) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[storeID]
	if !ok {
		return Account{}, ErrStoreNotFound
	}
	if err := fn(&acc); err != nil {
		return Account{}, err
	}
	l.accounts[storeID] = acc
	return acc, nil
}

func (l *MemoryLedger) RecordEvent(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of the recorded events
func (l *MemoryLedger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}
