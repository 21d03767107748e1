// Package notify sends operational emails to store owners.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"preik/internal/config"
	"preik/internal/credits"
	"preik/internal/models"
)

var ErrSendFailed = errors.New("email send failed")

type Message struct {
	To      string
	Subject string
	Text    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// EmailNotifier sends through a Resend compatible HTTP API
type EmailNotifier struct {
	baseURL string
	key     string
	from    string
	http    *http.Client
}

func NewEmailNotifier(cfg *config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     strings.TrimPrefix(cfg.Key, "Bearer "),
		from:    cfg.From,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	jsonData, err := json.Marshal(emailRequest{
		From:    n.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+n.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d, %s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("Email sent")
	return nil
}

// LogNotifier writes messages to the log instead of sending them
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg(msg.Text)
	return nil
}

// New returns an EmailNotifier when an API key is configured and a
// LogNotifier otherwise
func New(cfg *config.EmailConfig) Notifier {
	if cfg.Key == "" {
		log.Warn().Msg("No email API key configured, notifications are only logged")
		return LogNotifier{}
	}
	return NewEmailNotifier(cfg)
}

type StoreLookup interface {
	GetStore(ctx context.Context, id string) (*models.Store, error)
}

// CreditThresholdHook emails the store's notification address when usage
// crosses a threshold. Stores without an address are skipped.
func CreditThresholdHook(n Notifier, stores StoreLookup) credits.ThresholdHook {
	return func(ctx context.Context, ev credits.ThresholdEvent) error {
		store, err := stores.GetStore(ctx, ev.StoreID)
		if err != nil {
			return err
		}
		if store.NotifyEmail == "" {
			log.Debug().Str("store_id", ev.StoreID).Msg("No notification address, skipping credit email")
			return nil
		}
		return n.Send(ctx, ThresholdMessage(store, ev))
	}
}

// ThresholdMessage builds the email for a threshold crossing
func ThresholdMessage(store *models.Store, ev credits.ThresholdEvent) Message {
	u := ev.Usage
	subject := fmt.Sprintf("%s has used %.0f%% of its credits", store.Name, ev.Threshold)
	lead := fmt.Sprintf("Your chat assistant has used %d of %d credits this billing period.", u.Used, u.Limit)
	if ev.Threshold >= 100 {
		subject = fmt.Sprintf("%s has run out of credits", store.Name)
		lead = fmt.Sprintf("Your chat assistant has used all %d credits for this billing period and will not answer visitors until it renews.", u.Limit)
	}
	text := fmt.Sprintf("%s\n\nThe current period ends %s. Upgrade your plan to get more credits.",
		lead, u.CycleEnd.Format("2 January 2006"))
	return Message{To: store.NotifyEmail, Subject: subject, Text: text}
}
