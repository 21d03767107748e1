// Package scraper talks to the hosted scraping service used to map and read
// store websites.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"preik/internal/config"
	"preik/internal/textutil"
)

// Page is a scraped web page
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Markdown    string `json:"markdown"`
	StatusCode  int    `json:"status_code"`
}

// Text returns the page content as plain text, prefixed by its title
func (p *Page) Text() string {
	body := textutil.MarkdownToText(p.Markdown)
	title := strings.TrimSpace(p.Title)
	if title == "" || strings.HasPrefix(body, title) {
		return body
	}
	return title + "\n\n" + body
}

type Client struct {
	baseURL string
	key     string
	http    *http.Client
}

func NewClient(cfg *config.ScraperConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     strings.TrimPrefix(cfg.Key, "Bearer "),
		http:    &http.Client{Timeout: timeout},
	}
}

type mapRequest struct {
	URL               string `json:"url"`
	Limit             int    `json:"limit,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
	IgnoreSitemap     bool   `json:"ignoreSitemap"`
}

type mapResponse struct {
	Success bool     `json:"success"`
	Links   []string `json:"links"`
	Error   string   `json:"error"`
}

// Map lists the links the service finds on a site
func (c *Client) Map(ctx context.Context, siteURL string, limit int) ([]string, error) {
	var resp mapResponse
	err := c.post(ctx, "/v1/map", mapRequest{URL: siteURL, Limit: limit, IncludeSubdomains: true}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrScrapeFailed, resp.Error)
	}
	log.Debug().Str("url", siteURL).Int("links", len(resp.Links)).Msg("mapped site")
	return resp.Links, nil
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	Timeout         int      `json:"timeout,omitempty"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			SourceURL   string `json:"sourceURL"`
			StatusCode  int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Scrape fetches a single page as markdown
func (c *Client) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	var resp scrapeResponse
	req := scrapeRequest{URL: pageURL, Formats: []string{"markdown"}, OnlyMainContent: true, Timeout: 30000}
	if err := c.post(ctx, "/v1/scrape", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrScrapeFailed, resp.Error)
	}
	page := &Page{
		URL:         pageURL,
		Title:       resp.Data.Metadata.Title,
		Description: resp.Data.Metadata.Description,
		Markdown:    resp.Data.Markdown,
		StatusCode:  resp.Data.Metadata.StatusCode,
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrScrapeFailed, pageURL, page.StatusCode)
	}
	if strings.TrimSpace(page.Markdown) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPage, pageURL)
	}
	return page, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusPaymentRequired:
		return ErrQuota
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %d, %s", ErrScrapeFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scraper response: %w", err)
	}
	return nil
}
