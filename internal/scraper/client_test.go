package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preik/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(&config.ScraperConfig{BaseURL: srv.URL + "/", Key: "fc-test"})
}

func TestMap(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/map", r.URL.Path)
		assert.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))

		var req mapRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com", req.URL)
		assert.Equal(t, 100, req.Limit)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"links":   []string{"https://example.com/a", "https://example.com/b"},
		})
	})

	links, err := c.Map(context.Background(), "https://example.com", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, links)
}

func TestScrape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		var req scrapeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"markdown"}, req.Formats)
		assert.True(t, req.OnlyMainContent)

		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"## Frakt\n\nVi sender med **Posten**.","metadata":{"title":"Levering","statusCode":200}}}`))
	})

	page, err := c.Scrape(context.Background(), "https://example.com/levering")
	require.NoError(t, err)
	assert.Equal(t, "Levering", page.Title)
	assert.Equal(t, "Levering\n\nFrakt\n\nVi sender med Posten.", page.Text())
}

func TestMapAcceptsAny2xx(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusAccepted} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"success":true,"links":["https://example.com/a"]}`))
		})

		links, err := c.Map(context.Background(), "https://example.com", 10)
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, []string{"https://example.com/a"}, links)
	}
}

func TestScrapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", http.StatusPaymentRequired, `{}`, ErrQuota},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrRateLimited},
		{"server error", http.StatusInternalServerError, `boom`, ErrScrapeFailed},
		{"unsuccessful", http.StatusOK, `{"success":false,"error":"blocked"}`, ErrScrapeFailed},
		{"target 404", http.StatusOK, `{"success":true,"data":{"markdown":"x","metadata":{"statusCode":404}}}`, ErrScrapeFailed},
		{"empty", http.StatusOK, `{"success":true,"data":{"markdown":"  ","metadata":{"statusCode":200}}}`, ErrEmptyPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Scrape(context.Background(), "https://example.com/")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPageTextDoesNotRepeatTitle(t *testing.T) {
	p := &Page{Title: "Om oss", Markdown: "# Om oss\n\nHei"}
	assert.Equal(t, "Om oss\n\nHei", p.Text())
}
