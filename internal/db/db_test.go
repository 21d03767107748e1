package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"preik/internal/auth"
	"preik/internal/config"
	"preik/internal/credits"
)

func TestSchemaUsesDimensions(t *testing.T) {
	stmts := strings.Join(schema(768), "\n")
	assert.Contains(t, stmts, "embedding vector(768) NOT NULL")
	assert.Contains(t, stmts, "USING hnsw (embedding vector_cosine_ops)")
	assert.Contains(t, stmts, "CHECK (credits_used >= 0)")
}

func TestConnectDBUnknownDriver(t *testing.T) {
	_, err := ConnectDB(&config.DatabaseConfig{URL: "postgres://localhost/x", Driver: "mysql"})
	assert.Error(t, err)
}

func TestLedgerErr(t *testing.T) {
	assert.ErrorIs(t, ledgerErr(sql.ErrNoRows), credits.ErrStoreNotFound)
	assert.ErrorIs(t, ledgerErr(fmt.Errorf("scan: %w", sql.ErrNoRows)), credits.ErrStoreNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, ledgerErr(other))
}

func TestStoreMapping(t *testing.T) {
	anchor := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	row := &Store{
		ID:                "s1",
		Name:              "Sko AS",
		Plan:              "pro",
		CreditLimit:       2000,
		CreditsUsed:       42,
		BillingAnchor:     anchor,
		BillingCycleStart: anchor,
		AllowedOrigins:    []string{"sko.no"},
	}

	acc := row.account()
	assert.Equal(t, credits.Account{StoreID: "s1", Limit: 2000, Used: 42, Anchor: anchor, CycleStart: anchor}, acc)

	m := row.toModel()
	assert.Equal(t, "Sko AS", m.Name)
	assert.Equal(t, []string{"sko.no"}, m.AllowedOrigins)
}

func TestProfilePrincipal(t *testing.T) {
	storeID := "s1"
	p := (&Profile{ID: "u1", Email: "a@b.no", Role: "admin", StoreID: &storeID}).principal()
	assert.Equal(t, &auth.Principal{UserID: "u1", Email: "a@b.no", Role: "admin", StoreID: "s1"}, p)

	p = (&Profile{ID: "u2", Role: "super_admin"}).principal()
	assert.Empty(t, p.StoreID)
}
