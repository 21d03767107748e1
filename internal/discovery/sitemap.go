package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"preik/internal/urlsafety"
)

const (
	maxSitemapBytes = 10 << 20
	maxChildMaps    = 10
)

type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// Sitemap fetches /sitemap.xml, following a sitemap index one level deep
type Sitemap struct {
	client *http.Client
}

// NewSitemap uses client for all requests; it should come from urlsafety.NewHTTPClient
func NewSitemap(client *http.Client) *Sitemap {
	return &Sitemap{client: client}
}

func (s *Sitemap) Fetch(ctx context.Context, siteURL string) ([]string, error) {
	base, err := urlsafety.Validate(siteURL)
	if err != nil {
		return nil, err
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}

	doc, err := s.get(ctx, root.String())
	if err != nil {
		return nil, err
	}
	links := locs(doc.URLs)

	children := locs(doc.Sitemaps)
	if len(children) > maxChildMaps {
		children = children[:maxChildMaps]
	}
	for _, child := range children {
		if _, err := urlsafety.Validate(child); err != nil {
			log.Debug().Err(err).Str("sitemap", child).Msg("skipping unsafe child sitemap")
			continue
		}
		sub, err := s.get(ctx, child)
		if err != nil {
			log.Debug().Err(err).Str("sitemap", child).Msg("failed to read child sitemap")
			continue
		}
		links = append(links, locs(sub.URLs)...)
	}
	return links, nil
}

func (s *Sitemap) get(ctx context.Context, target string) (*sitemapDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "PreikBot/1.0 (+https://preik.no)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap request failed: %d", resp.StatusCode)
	}

	var doc sitemapDoc
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxSitemapBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode sitemap: %w", err)
	}
	return &doc, nil
}

func locs(in []sitemapLoc) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if loc := strings.TrimSpace(l.Loc); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
