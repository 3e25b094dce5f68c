package frontier

import "errors"

var (
	// ErrNoneAvailable is returned by Pop when records are queued but no
	// host is currently eligible. The caller should wait, not stop.
	ErrNoneAvailable = errors.New("frontier: no host eligible")

	// ErrEmpty is returned by Pop when nothing is queued.
	ErrEmpty = errors.New("frontier: empty")

	// ErrClosed is returned by Pop after Close.
	ErrClosed = errors.New("frontier: closed")

	// ErrBudgetExceeded reports that the page budget has been used up.
	// It is a soft condition: the crawl drains instead of failing.
	ErrBudgetExceeded = errors.New("frontier: page budget exceeded")

	// ErrTooDeep reports a record beyond the maximum depth.
	ErrTooDeep = errors.New("frontier: depth limit exceeded")
)
