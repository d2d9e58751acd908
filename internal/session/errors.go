package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// AuthRequiredError means the login test failed or a hard interactive
// challenge was detected. It is terminal: no layer may retry it, the
// operator has to refresh credentials out of band.
type AuthRequiredError struct {
	SiteID   string
	SiteName string
	Message  string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("%s: authentication required: %s", e.SiteName, e.Message)
}

// OverloadError means the site signaled temporary throttling. Callers wait
// Cooldown before the next attempt.
type OverloadError struct {
	SiteID   string
	SiteName string
	Cooldown time.Duration
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("%s: site overloaded, cooldown %s", e.SiteName, e.Cooldown)
}

// RateLimitedError is the site's "too many requests" page outside the
// overload path, seen mostly during downloads.
type RateLimitedError struct {
	SiteID   string
	SiteName string
	URL      string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.SiteName, e.URL)
}

// ParseError wraps an extraction failure with site identity. Unwrap exposes
// the engine's error kind (malformed rule vs. page shape mismatch).
type ParseError struct {
	SiteID   string
	SiteName string
	What     string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.SiteName, e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DownloadConfirmError means the download target returned an interstitial
// confirmation page without a recoverable identifier. Fatal for that
// download; the operator must confirm once in a browser.
type DownloadConfirmError struct {
	SiteID   string
	SiteName string
	URL      string
}

func (e *DownloadConfirmError) Error() string {
	return fmt.Sprintf("%s: download needs manual page confirmation: %s", e.SiteName, e.URL)
}

// DownloadError is a download response that was neither a torrent payload
// nor a recognizable confirmation page.
type DownloadError struct {
	SiteID   string
	SiteName string
	URL      string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: download failed: %s: %v", e.SiteName, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsAuthRequired reports whether err is (or wraps) an AuthRequiredError.
func IsAuthRequired(err error) bool {
	var ae *AuthRequiredError
	return errors.As(err, &ae)
}

// AsOverload extracts an OverloadError when present.
func AsOverload(err error) (*OverloadError, bool) {
	var oe *OverloadError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// IsTimeout reports whether err is a deadline or network timeout failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
