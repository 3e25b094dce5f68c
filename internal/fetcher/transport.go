package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/proxy"
)

// DefaultMaxBodySize caps response bodies when no size is configured.
const DefaultMaxBodySize = 5 * 1024 * 1024

// maxRedirects is the number of redirects followed before giving up.
const maxRedirects = 10

// Response is the raw result of one HTTP attempt.
type Response struct {
	// URL is the requested URL.
	URL string

	// FinalURL is the URL after redirects.
	FinalURL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Header holds the response headers.
	Header http.Header

	// ContentType is the Content-Type header.
	ContentType string

	// Body is the decoded response body.
	Body []byte

	// Elapsed is the time from sending the request to reading the body.
	Elapsed time.Duration
}

// Transport performs a single fetch attempt. Implementations return a
// Response for every HTTP status; errors are reserved for failures to get
// a response at all.
type Transport interface {
	Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error)
}

// TransportOptions configures an HTTPTransport.
type TransportOptions struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Headers are sent with every request.
	Headers map[string]string

	// HostHeaders are sent only to the keyed host.
	HostHeaders map[string]map[string]string

	// MaxBodySize caps the decoded body. Zero uses DefaultMaxBodySize.
	MaxBodySize int64

	// ProxyURL routes requests through a proxy. Schemes http, https,
	// socks5 and socks5h are supported.
	ProxyURL string
}

// HTTPTransport implements Transport with net/http.
type HTTPTransport struct {
	client      *http.Client
	userAgent   string
	headers     map[string]string
	hostHeaders map[string]map[string]string
	maxBodySize int64
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts TransportOptions) (*HTTPTransport, error) {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		// Decoding is done in readBody so that brotli is handled too.
		DisableCompression: true,
	}

	if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
		if err := configureProxy(transport, dialer, proxyURL); err != nil {
			return nil, err
		}
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	return &HTTPTransport{
		client:      client,
		userAgent:   opts.UserAgent,
		headers:     cloneHeaders(opts.Headers),
		hostHeaders: opts.HostHeaders,
		maxBodySize: opts.MaxBodySize,
	}, nil
}

// configureProxy routes transport through proxyURL. SOCKS5 proxies are
// dialed with golang.org/x/net/proxy; HTTP proxies use the standard
// Proxy hook.
func configureProxy(transport *http.Transport, dialer *net.Dialer, proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		socks, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
		if err != nil {
			return fmt.Errorf("create socks5 dialer: %w", err)
		}
		contextDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return errors.New("socks5 dialer does not support contexts")
		}
		transport.DialContext = contextDialer.DialContext
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

// Client returns the underlying HTTP client, for example for robots.txt
// requests that must use the same proxy.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// Fetch performs one GET request bounded by timeout.
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	for k, v := range t.hostHeaders[strings.ToLower(req.URL.Host)] {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	body, err := t.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		Header:      resp.Header.Clone(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		Elapsed:     time.Since(start),
	}, nil
}

// readBody decodes the response body and enforces the size cap.
func (t *HTTPTransport) readBody(resp *http.Response) ([]byte, error) {
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, t.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > t.maxBodySize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, t.maxBodySize)
	}
	return body, nil
}

// parseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when the header is missing or invalid.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
