// Package httpclient fetches JSON from operator-configured endpoints such as
// gold price feeds.
//
// Requests are guarded against server-side request forgery: only http and
// https are allowed, URLs carrying credentials are rejected, and every
// address actually dialled (including redirect targets and DNS answers) is
// checked against loopback, private, link-local and reserved ranges unless
// the client is built with AllowPrivate.
package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/teranos/aurum/errors"
)

// Defaults
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 1 << 20
)

// ErrBlocked marks a request refused by the address policy
var ErrBlocked = errors.New("address blocked")

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	AllowPrivate bool // permit feeds on loopback and private networks
}

// Client is an HTTP client with SSRF protection
type Client struct {
	http         *http.Client
	allowPrivate bool
	maxBody      int64
}

// New creates a client
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	c := &Client{allowPrivate: opts.AllowPrivate, maxBody: opts.MaxBodyBytes}

	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	if !opts.AllowPrivate {
		// Control runs after DNS resolution, on the address about to be dialled
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return errors.Wrap(err, "invalid address")
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return errors.Wrap(err, "invalid address")
			}
			if IsPrivate(addr) {
				return errors.Wrapf(ErrBlocked, "private address %s", addr)
			}
			return nil
		}
	}

	c.http = &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return errors.Newf("stopped after %d redirects", opts.MaxRedirects)
			}
			return errors.Wrap(c.checkURL(req.URL), "redirect blocked")
		},
	}
	return c
}

// ValidateURL parses raw and checks it against the client's policy
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.checkURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "URL carries credentials")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.Wrap(ErrBlocked, "localhost")
	}
	if addr, err := netip.ParseAddr(host); err == nil && IsPrivate(addr) {
		return errors.Wrapf(ErrBlocked, "private address %s", addr)
	}
	return nil
}

// IsPrivate reports whether addr is loopback, private, link-local,
// multicast, unspecified or otherwise not publicly routable.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range reserved {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fec0::/10"),     // site-local
	netip.MustParsePrefix("2001:db8::/32"), // documentation
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}

// GetJSON fetches raw and decodes the JSON body into out.
//
// Failures are classified for the caller: blocked and malformed URLs and 4xx
// responses are fatal configuration errors, network failures, 429 and 5xx
// responses are transient, and an undecodable body is a business rule
// violation.
func (c *Client) GetJSON(ctx context.Context, raw string, out interface{}) error {
	u, err := c.ValidateURL(raw)
	if err != nil {
		return errors.AsFatal(err, "feed URL rejected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.AsFatal(err, "build feed request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			return errors.AsFatal(err, "feed request blocked")
		}
		return errors.AsTransient(err, "feed request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Mark(errors.Newf("feed returned %s", resp.Status), errors.ErrTransientStore)
	case resp.StatusCode >= 400:
		return errors.WithHint(
			errors.Mark(errors.Newf("feed returned %s", resp.Status), errors.ErrFatalConfig),
			"check bonus.rate_url",
		)
	case resp.StatusCode >= 300:
		return errors.Mark(errors.Newf("feed returned unexpected %s", resp.Status), errors.ErrFatalConfig)
	}

	body := io.LimitReader(resp.Body, c.maxBody)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return errors.AsBusinessRule(err, "decode feed response")
	}
	return nil
}
