package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preik/internal/config"
	"preik/internal/credits"
	"preik/internal/models"
)

func TestEmailNotifierSend(t *testing.T) {
	var got emailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"e1"}`))
	}))
	defer srv.Close()

	n := NewEmailNotifier(&config.EmailConfig{BaseURL: srv.URL + "/", Key: "re_123", From: "Preik <noreply@preik.no>"})
	err := n.Send(context.Background(), Message{To: "owner@shop.no", Subject: "Hi", Text: "Body"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer re_123", auth)
	assert.Equal(t, emailRequest{From: "Preik <noreply@preik.no>", To: []string{"owner@shop.no"}, Subject: "Hi", Text: "Body"}, got)
}

func TestEmailNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewEmailNotifier(&config.EmailConfig{BaseURL: srv.URL}).Send(context.Background(), Message{To: "a@b.no"})
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "422")
}

func TestNewFallsBackToLog(t *testing.T) {
	assert.IsType(t, LogNotifier{}, New(&config.EmailConfig{}))
	assert.IsType(t, &EmailNotifier{}, New(&config.EmailConfig{Key: "k"}))
}

type recorder struct{ sent []Message }

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

type stores map[string]*models.Store

func (s stores) GetStore(_ context.Context, id string) (*models.Store, error) {
	if st, ok := s[id]; ok {
		return st, nil
	}
	return nil, credits.ErrStoreNotFound
}

func TestCreditThresholdHook(t *testing.T) {
	rec := &recorder{}
	hook := CreditThresholdHook(rec, stores{
		"s1": {ID: "s1", Name: "Sko AS", NotifyEmail: "owner@sko.no"},
		"s2": {ID: "s2", Name: "Quiet"},
	})
	end := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, hook(context.Background(), credits.ThresholdEvent{
		StoreID: "s1", Threshold: 80, Usage: credits.Usage{Used: 400, Limit: 500, CycleEnd: end},
	}))
	require.NoError(t, hook(context.Background(), credits.ThresholdEvent{
		StoreID: "s1", Threshold: 100, Usage: credits.Usage{Used: 500, Limit: 500, CycleEnd: end},
	}))
	require.NoError(t, hook(context.Background(), credits.ThresholdEvent{StoreID: "s2", Threshold: 80}))
	assert.ErrorIs(t, hook(context.Background(), credits.ThresholdEvent{StoreID: "s3", Threshold: 80}), credits.ErrStoreNotFound)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, "owner@sko.no", rec.sent[0].To)
	assert.Equal(t, "Sko AS has used 80% of its credits", rec.sent[0].Subject)
	assert.Contains(t, rec.sent[0].Text, "400 of 500")
	assert.Contains(t, rec.sent[0].Text, "10 April 2025")
	assert.Equal(t, "Sko AS has run out of credits", rec.sent[1].Subject)
}

func TestMeterFiresHookOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &recorder{}
	ledger := credits.NewMemoryLedger(credits.Account{StoreID: "s1", Limit: 5, Anchor: now, CycleStart: now})
	meter := credits.NewMeter(ledger,
		credits.WithClock(func() time.Time { return now }),
		credits.WithThresholdHook(CreditThresholdHook(rec, stores{"s1": {ID: "s1", Name: "Sko", NotifyEmail: "o@sko.no"}})),
	)
	for i := 0; i < 5; i++ {
		_, err := meter.Consume(context.Background(), "s1", 1)
		require.NoError(t, err)
		meter.Wait()
	}
	require.Len(t, rec.sent, 2)
	assert.Contains(t, rec.sent[0].Subject, "80%")
	assert.Contains(t, rec.sent[1].Subject, "run out")
}
