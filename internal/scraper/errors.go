package scraper

import "errors"

var (
	// ErrQuota is returned when the scraping service reports exhausted credits (HTTP 402)
	ErrQuota = errors.New("scraper quota exhausted")
	// ErrRateLimited is returned when the scraping service throttles us (HTTP 429)
	ErrRateLimited = errors.New("scraper rate limited")
	// ErrScrapeFailed is returned for other unsuccessful responses
	ErrScrapeFailed = errors.New("scrape failed")
	// ErrEmptyPage is returned when a scraped page has no text
	ErrEmptyPage = errors.New("scraped page has no content")
)
