// Package urlsafety rejects URLs that would make the server reach internal
// or otherwise non-public hosts.
package urlsafety

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrInvalidURL is returned when the input cannot be parsed as an absolute URL
	ErrInvalidURL = errors.New("invalid url")
	// ErrUnsupportedScheme is returned for schemes other than http and https
	ErrUnsupportedScheme = errors.New("only http and https urls are allowed")
	// ErrCredentialsInURL is returned when the URL carries user info
	ErrCredentialsInURL = errors.New("urls with credentials are not allowed")
	// ErrBlockedHost is returned for internal host names and non-public addresses
	ErrBlockedHost = errors.New("host is not allowed")
	// ErrBlockedPort is returned for ports outside the allowed set
	ErrBlockedPort = errors.New("port is not allowed")
	// ErrNoAddresses is returned when a host resolves to nothing
	ErrNoAddresses = errors.New("host did not resolve")
	// ErrTooManyRedirects is returned by the safe client after maxRedirects hops
	ErrTooManyRedirects = errors.New("too many redirects")
)

const maxRedirects = 5

var allowedPorts = map[string]bool{
	"":     true,
	"80":   true,
	"443":  true,
	"8080": true,
	"8443": true,
}

var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"metadata.azure.com":       true,
	"instance-data":            true,
	"kubernetes.default":       true,
}

var blockedSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".intranet",
	".lan",
	".home.arpa",
	".localdomain",
	".svc.cluster.local",
}

// hosts made only of digits, dots and hex markers are IPv4 in an alternate
// notation (2130706433, 0x7f.1, 017700000001) that resolvers accept
var numericHost = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)(\.(0x[0-9a-f]*|[0-9]+))*\.?$`)

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"64:ff9b:1::/48",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
	"ff00::/8",
)

// NAT64 embeds an IPv4 address in the low 32 bits
var nat64 = netip.MustParsePrefix("64:ff9b::/96")

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// Validate parses raw and checks it without touching the network. A bare
// host such as "example.com" is treated as https.
func Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.User != nil {
		return nil, ErrCredentialsInURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if !allowedPorts[u.Port()] {
		return nil, fmt.Errorf("%w: %s", ErrBlockedPort, u.Port())
	}
	if err := CheckHost(host); err != nil {
		return nil, err
	}
	u.Host = strings.ToLower(u.Host)
	return u, nil
}

// CheckHost rejects internal host names and literal addresses in blocked ranges
func CheckHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedHost)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsPublicAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
		return nil
	}
	if numericHost.MatchString(host) {
		return fmt.Errorf("%w: numeric host %s", ErrBlockedHost, host)
	}
	if blockedHosts[host] || !strings.Contains(host, ".") {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
	}
	return nil
}

// IsPublicAddr reports whether addr is routable on the public internet
func IsPublicAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.WithZone("")
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.Is6() && nat64.Contains(addr) {
		b := addr.As16()
		return IsPublicAddr(netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}))
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return false
	}
	if addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// Resolver is the subset of net.Resolver used for lookups
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// CheckResolved resolves u's host and fails unless every address is public
func CheckResolved(ctx context.Context, r Resolver, u *url.URL) error {
	if r == nil {
		r = net.DefaultResolver
	}
	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if !IsPublicAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
		return nil
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoAddresses, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoAddresses, host)
	}
	for _, a := range addrs {
		if !IsPublicAddr(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, a)
		}
	}
	return nil
}

// ValidateAndResolve runs Validate followed by CheckResolved
func ValidateAndResolve(ctx context.Context, r Resolver, raw string) (*url.URL, error) {
	u, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	if err := CheckResolved(ctx, r, u); err != nil {
		return nil, err
	}
	return u, nil
}

// dialControl checks the address actually being connected to, after DNS
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	if !IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, addr)
	}
	return nil
}

// NewHTTPClient returns a client that refuses to connect to non-public
// addresses, including through redirects or DNS answers that change between
// validation and connection.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			_, err := Validate(req.URL.String())
			return err
		},
	}
}
