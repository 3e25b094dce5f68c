package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

var (
	// ErrTransient classifies failures that are retried.
	ErrTransient = errors.New("transient fetch error")

	// ErrPermanent classifies failures that are not retried.
	ErrPermanent = errors.New("permanent fetch error")

	// ErrBodyTooLarge is returned when a response exceeds the size cap.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrTooManyRedirects is returned when the redirect cap is reached.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Kind is the coarse outcome of a fetch.
type Kind int

const (
	// KindSuccess is a 2xx response.
	KindSuccess Kind = iota
	// KindFailure is any failure other than a timeout.
	KindFailure
	// KindTimeout is an attempt that ran out of time.
	KindTimeout
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// FetchError describes a failed fetch. It matches ErrTransient or
// ErrPermanent with errors.Is, as well as its underlying cause.
type FetchError struct {
	// URL is the requested URL.
	URL string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Kind is KindTimeout for timeouts and KindFailure otherwise.
	Kind Kind

	// RetryAfter is the server-requested delay of a 429 or 503 response.
	RetryAfter time.Duration

	class error
	cause error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch {
	case e.cause != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.URL, e.StatusCode, e.cause)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.URL, e.cause)
	default:
		return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
	}
}

// Unwrap returns the classification sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.class}
	}
	return []error{e.class, e.cause}
}

// Transient reports whether the error should be retried.
func (e *FetchError) Transient() bool {
	return e.class == ErrTransient
}

// Reason returns a short description for event consumers.
func (e *FetchError) Reason() string {
	switch {
	case e.Kind == KindTimeout:
		return "timeout"
	case e.StatusCode != 0:
		return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	case e.cause != nil:
		return e.cause.Error()
	default:
		return "unknown error"
	}
}

// classifyError wraps a transport error in a FetchError.
func classifyError(rawURL string, err error) *FetchError {
	fe := &FetchError{URL: rawURL, Kind: KindFailure, cause: err}

	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, ErrBodyTooLarge), errors.Is(err, ErrTooManyRedirects):
		fe.class = ErrPermanent
	case errors.Is(err, context.DeadlineExceeded):
		fe.class = ErrTransient
		fe.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.class = ErrTransient
		fe.Kind = KindTimeout
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		fe.class = ErrPermanent
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		fe.class = ErrTransient
	case errors.As(err, &netErr):
		fe.class = ErrTransient
	default:
		fe.class = ErrPermanent
	}
	return fe
}

// classifyStatus returns a FetchError for a non-2xx response, or nil.
func classifyStatus(resp *Response, now time.Time) *FetchError {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	fe := &FetchError{URL: resp.URL, StatusCode: code, Kind: KindFailure}
	switch {
	case code == http.StatusTooManyRequests:
		fe.class = ErrTransient
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	case code >= 500:
		fe.class = ErrTransient
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	case code >= 300 && code < 400:
		fe.class = ErrPermanent
		if resp.Header.Get("Location") != "" {
			fe.cause = ErrTooManyRedirects
		}
	default:
		fe.class = ErrPermanent
	}
	return fe
}
