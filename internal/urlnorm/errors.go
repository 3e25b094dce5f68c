package urlnorm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL is returned when a URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrUnsupportedScheme is returned for schemes other than http and https.
	// It wraps ErrInvalidURL, so errors.Is(err, ErrInvalidURL) also holds.
	ErrUnsupportedScheme = fmt.Errorf("%w: unsupported scheme", ErrInvalidURL)
)
