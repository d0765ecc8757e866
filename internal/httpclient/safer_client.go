// Package httpclient is the outbound HTTP client used to fetch job feeds.
// It refuses non-http(s) schemes and, unless told otherwise, hosts that
// resolve to loopback or private networks.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/jobpulse/errors"
)

const (
	defaultMaxRedirects = 10
	defaultMaxBodyBytes = 20 << 20
)

// Options configures a SaferClient. Zero values fall back to defaults.
type Options struct {
	Timeout           time.Duration
	UserAgent         string
	MaxRedirects      int
	MaxBodyBytes      int64
	AllowPrivateHosts bool
	// Transport replaces the guarded dialer, used by tests
	Transport http.RoundTripper
}

// SaferClient wraps http.Client with SSRF protection and a body size cap
type SaferClient struct {
	client         *http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
	maxBodyBytes   int64
	userAgent      string
}

// NewSaferClient creates an HTTP client from opts
func NewSaferClient(opts Options) *SaferClient {
	c := &SaferClient{
		allowedSchemes: []string{"http", "https"},
		blockPrivateIP: !opts.AllowPrivateHosts,
		maxRedirects:   opts.MaxRedirects,
		maxBodyBytes:   opts.MaxBodyBytes,
		userAgent:      opts.UserAgent,
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = defaultMaxRedirects
	}
	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = defaultMaxBodyBytes
	}

	transport := opts.Transport
	if transport == nil {
		transport = c.newTransport()
	}

	c.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= c.maxRedirects {
				return errors.Newf("stopped after %d redirects", c.maxRedirects)
			}
			if err := c.validateURL(req.URL); err != nil {
				return errors.Wrap(err, "redirect blocked")
			}
			return nil
		},
	}
	return c
}

func (c *SaferClient) newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	dial := dialer.DialContext
	if c.blockPrivateIP {
		// Checked at dial time as well so DNS rebinding cannot slip past validateURL
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, a := range addrs {
				if isPrivateAddr(a) {
					return nil, errors.Newf("private IP address blocked: %s", a)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ValidateURL parses urlStr and checks it against the client's policy
func (c *SaferClient) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://feeds.example@127.0.0.1/ style confusion
	if u.User != nil {
		return errors.New("URL contains userinfo")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if addr, err := netip.ParseAddr(hostname); err == nil && isPrivateAddr(addr) {
			return errors.Newf("private IP address blocked: %s", hostname)
		}
	}
	return nil
}

// isPrivateAddr covers loopback, RFC 1918 / ULA, link-local, multicast and
// unspecified ranges, plus 0.0.0.0/8 and the reserved 240.0.0.0/4.
func isPrivateAddr(a netip.Addr) bool {
	a = a.Unmap()
	if a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() || a.IsMulticast() || a.IsUnspecified() {
		return true
	}
	if a.Is4() {
		b := a.As4()
		return b[0] == 0 || b[0] >= 240
	}
	// 2001:db8::/32 documentation prefix
	b := a.As16()
	return b[0] == 0x20 && b[1] == 0x01 && b[2] == 0x0d && b[3] == 0xb8
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// Get issues a GET for urlStr with the configured User-Agent and any extra
// headers. The returned body is capped at the client's MaxBodyBytes; reading
// past the cap yields ErrBodyTooLarge.
func (c *SaferClient) Get(ctx context.Context, urlStr string, headers map[string]string) (*http.Response, error) {
	u, err := c.ValidateURL(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}

// Do executes req after validating its URL
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &cappedBody{rc: resp.Body, remaining: c.maxBodyBytes}
	return resp, nil
}

// ErrBodyTooLarge is returned when a response body exceeds MaxBodyBytes
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

type cappedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// one extra byte distinguishes "exactly at cap" from "over cap"
		var extra [1]byte
		n, err := b.rc.Read(extra[:])
		if n > 0 {
			return 0, ErrBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *cappedBody) Close() error { return b.rc.Close() }
