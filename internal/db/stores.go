package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"preik/internal/credits"
	"preik/internal/models"
)

type Store struct {
	bun.BaseModel     `bun:"table:stores,alias:s"`
	ID                string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Name              string    `bun:"name,notnull"`
	Plan              string    `bun:"plan,notnull"`
	CreditLimit       int64     `bun:"credit_limit,notnull"`
	CreditsUsed       int64     `bun:"credits_used,notnull"`
	BillingAnchor     time.Time `bun:"billing_anchor,notnull"`
	BillingCycleStart time.Time `bun:"billing_cycle_start,notnull"`
	AllowedOrigins    []string  `bun:"allowed_origins,array"`
	SystemPrompt      string    `bun:"system_prompt,notnull"`
	NotifyEmail       string    `bun:"notify_email,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (s *Store) toModel() *models.Store {
	return &models.Store{
		ID:             s.ID,
		Name:           s.Name,
		Plan:           s.Plan,
		AllowedOrigins: s.AllowedOrigins,
		SystemPrompt:   s.SystemPrompt,
		NotifyEmail:    s.NotifyEmail,
	}
}

func (s *Store) account() credits.Account {
	return credits.Account{
		StoreID:    s.ID,
		Limit:      s.CreditLimit,
		Used:       s.CreditsUsed,
		Anchor:     s.BillingAnchor,
		CycleStart: s.BillingCycleStart,
	}
}

type StoreRepo struct {
	db *bun.DB
}

func NewStoreRepo(db *bun.DB) *StoreRepo {
	return &StoreRepo{db: db}
}

// CreateStore inserts a store on the given plan with a billing cycle starting now
func (r *StoreRepo) CreateStore(ctx context.Context, name, plan string, allowedOrigins []string, notifyEmail string) (*models.Store, error) {
	now := time.Now().UTC()
	row := &Store{
		Name:              name,
		Plan:              plan,
		CreditLimit:       models.PlanCredits[plan],
		BillingAnchor:     now,
		BillingCycleStart: now,
		AllowedOrigins:    allowedOrigins,
		NotifyEmail:       notifyEmail,
	}
	if _, err := r.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *StoreRepo) GetStore(ctx context.Context, id string) (*models.Store, error) {
	row := new(Store)
	if err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toModel(), nil
}

func (r *StoreRepo) ListStores(ctx context.Context) ([]models.Store, error) {
	var rows []Store
	if err := r.db.NewSelect().Model(&rows).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]models.Store, len(rows))
	for i := range rows {
		out[i] = *rows[i].toModel()
	}
	return out, nil
}

// CreditLedger implements credits.Ledger on the stores table. Updates lock
// the store row for the duration of the transaction.
type CreditLedger struct {
	db *bun.DB
}

func NewCreditLedger(db *bun.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

func (l *CreditLedger) Get(ctx context.Context, storeID string) (credits.Account, error) {
	row := new(Store)
	err := l.db.NewSelect().
		Model(row).
		Column("id", "credit_limit", "credits_used", "billing_anchor", "billing_cycle_start").
		Where("id = ?", storeID).
		Scan(ctx)
	if err != nil {
		return credits.Account{}, ledgerErr(err)
	}
	return row.account(), nil
}

func (l *CreditLedger) Update(ctx context.Context, storeID string, fn func(*credits.Account) error) (credits.Account, error) {
	var acc credits.Account
	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := new(Store)
		err := tx.NewSelect().
			Model(row).
			Column("id", "credit_limit", "credits_used", "billing_anchor", "billing_cycle_start").
			Where("id = ?", storeID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return ledgerErr(err)
		}

		acc = row.account()
		if err := fn(&acc); err != nil {
			return err
		}

		row.CreditLimit = acc.Limit
		row.CreditsUsed = acc.Used
		row.BillingAnchor = acc.Anchor
		row.BillingCycleStart = acc.CycleStart
		_, err = tx.NewUpdate().
			Model(row).
			Column("credit_limit", "credits_used", "billing_anchor", "billing_cycle_start").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return credits.Account{}, err
	}
	return acc, nil
}

type CreditEvent struct {
	bun.BaseModel `bun:"table:credit_events,alias:ce"`
	ID            int64     `bun:"id,pk,autoincrement"`
	StoreID       string    `bun:"store_id,type:uuid,notnull"`
	Kind          string    `bun:"kind,notnull"`
	Amount        int64     `bun:"amount"`
	UsedAfter     int64     `bun:"used_after"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

func (l *CreditLedger) RecordEvent(ctx context.Context, ev credits.Event) error {
	_, err := l.db.NewInsert().Model(&CreditEvent{
		StoreID:   ev.StoreID,
		Kind:      string(ev.Kind),
		Amount:    ev.Amount,
		UsedAfter: ev.UsedAfter,
		CreatedAt: ev.At,
	}).Exec(ctx)
	return err
}

func ledgerErr(err error) error {
	if err = notFound(err); err == ErrNotFound {
		return credits.ErrStoreNotFound
	}
	return err
}
