// Package discovery narrows the URLs found on a store's website down to the
// content pages worth scraping.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/net/publicsuffix"

	"preik/internal/urlsafety"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrNoPages is returned when nothing usable was discovered
var ErrNoPages = errors.New("no pages discovered")

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"_ga":     true,
	"_gl":     true,
}

var assetExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true, ".bmp": true, ".avif": true,
	".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mp3": true, ".wav": true, ".ogg": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".zip": true, ".rar": true, ".gz": true, ".tar": true, ".7z": true, ".dmg": true, ".exe": true,
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true, ".xml": true, ".rss": true, ".atom": true,
}

var excludedPrefixes = []string{
	"/wp-admin",
	"/wp-login",
	"/wp-json",
	"/wp-content/uploads",
	"/login",
	"/logout",
	"/signin",
	"/register",
	"/cart",
	"/checkout",
	"/account",
	"/my-account",
	"/admin",
	"/cdn-cgi",
	"/feed",
	"/search",
}

var excludedSegments = []string{"/tag/", "/author/"}

var paginationPath = regexp.MustCompile(`/page/\d+/?$`)

// Options controls Filter
type Options struct {
	Limit int
}

func (o Options) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultLimit
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return o.Limit
	}
}

// Normalize canonicalises a URL so equivalent links compare equal
func Normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Hostname())
	port := n.Port()
	if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	n.Host = host
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil

	if len(n.Path) > 1 {
		n.Path = strings.TrimRight(n.Path, "/")
		if n.Path == "" {
			n.Path = "/"
		}
	}
	n.RawPath = ""
	if n.Path == "" {
		n.Path = "/"
	}

	q := n.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
			q.Del(key)
		}
	}
	// Encode sorts by key
	n.RawQuery = q.Encode()
	return &n
}

// Filter returns the normalized candidates that belong to base's site and
// look like content pages, shallowest first, capped at the limit.
func Filter(base string, candidates []string, opts Options) ([]string, error) {
	baseURL, err := urlsafety.Validate(base)
	if err != nil {
		return nil, err
	}
	baseURL = Normalize(baseURL)
	site, err := registrableDomain(baseURL.Hostname())
	if err != nil {
		return nil, err
	}

	kept := lo.FilterMap(candidates, func(raw string, _ int) (string, bool) {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || raw == "" {
			return "", false
		}
		u, err := urlsafety.Validate(baseURL.ResolveReference(ref).String())
		if err != nil {
			return "", false
		}
		u = Normalize(u)
		if !sameSite(u.Hostname(), site) || !isContentPath(u.Path) {
			return "", false
		}
		return u.String(), true
	})
	kept = lo.Uniq(kept)

	baseStr := baseURL.String()
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i] == baseStr || kept[j] == baseStr {
			return kept[i] == baseStr && kept[j] != baseStr
		}
		di, dj := depth(kept[i]), depth(kept[j])
		if di != dj {
			return di < dj
		}
		return kept[i] < kept[j]
	})

	if limit := opts.limit(); len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

// Mapper lists the links of a site, typically through the scraping service
type Mapper interface {
	Map(ctx context.Context, siteURL string, limit int) ([]string, error)
}

// SitemapFetcher reads a site's sitemap
type SitemapFetcher interface {
	Fetch(ctx context.Context, siteURL string) ([]string, error)
}

// Discover maps the site with mapper and falls back to the sitemap when the
// mapper fails or finds nothing. Either source may be nil.
func Discover(ctx context.Context, mapper Mapper, sitemap SitemapFetcher, base string, opts Options) ([]string, error) {
	if _, err := urlsafety.Validate(base); err != nil {
		return nil, err
	}

	var links []string
	if mapper != nil {
		found, err := mapper.Map(ctx, base, MaxLimit)
		if err != nil {
			log.Warn().Err(err).Str("url", base).Msg("site map failed, trying sitemap.xml")
		}
		links = found
	}
	if len(links) == 0 && sitemap != nil {
		found, err := sitemap.Fetch(ctx, base)
		if err != nil {
			log.Warn().Err(err).Str("url", base).Msg("sitemap fetch failed")
		}
		links = found
	}

	// the start page is always a candidate
	pages, err := Filter(base, append([]string{base}, links...), opts)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPages, base)
	}
	return pages, nil
}

func registrableDomain(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", urlsafety.ErrInvalidURL, err)
	}
	return d, nil
}

func sameSite(host, site string) bool {
	return host == site || strings.HasSuffix(host, "."+site)
}

func isContentPath(p string) bool {
	lower := strings.ToLower(p)
	if assetExtensions[path.Ext(lower)] {
		return false
	}
	for _, prefix := range excludedPrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+"/") || strings.HasPrefix(lower, prefix+".") {
			return false
		}
	}
	for _, seg := range excludedSegments {
		if strings.Contains(lower+"/", seg) {
			return false
		}
	}
	return !paginationPath.MatchString(lower)
}

func depth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	return len(lo.Compact(strings.Split(u.Path, "/")))
}

// Finder runs Discover with a fixed mapper and sitemap fetcher
type Finder struct {
	Mapper  Mapper
	Sitemap SitemapFetcher
}

func (f Finder) Discover(ctx context.Context, base string, opts Options) ([]string, error) {
	return Discover(ctx, f.Mapper, f.Sitemap, base, opts)
}
