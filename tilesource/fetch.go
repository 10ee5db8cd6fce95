/*
Copyright © 2023 mapknit authors
*/
package tilesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrServiceUnavailable marks connectivity loss: a transport failure, or a
// transient server error that survived all retries. The fetch layer still
// renders a diagnostic image for it; the facade may re-signal it to callers.
var ErrServiceUnavailable = errors.New("map service unavailable")

// RequestHook is invoked once per outgoing request before it is sent, e.g.
// to add auth headers.
type RequestHook func(*http.Request)

// FetchError describes a failed tile or map request.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

const (
	// fetchAttempts bounds retries of transient server errors (HTTP 500/503).
	fetchAttempts = 3
	retryDelay    = 50 * time.Millisecond
)

// httpGetter performs the raw HTTP fetch with the retry policy.
type httpGetter struct {
	client *http.Client
	hook   RequestHook
}

func newHTTPGetter(hook RequestHook) httpGetter {
	return httpGetter{
		client: &http.Client{},
		hook:   hook,
	}
}

func isTransientStatus(code int) bool {
	return code == http.StatusInternalServerError || code == http.StatusServiceUnavailable
}

// get fetches a URL, retrying transient server errors up to fetchAttempts
// total attempts with a fixed delay. The delay is a blocking sleep; this
// runs off any UI-affecting thread.
func (g httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	var lastStatus int

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		if g.hook != nil {
			g.hook(req)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			// transport failure: DNS, refused connection - not retried
			return nil, &FetchError{URL: url, Err: fmt.Errorf("%w: %v", ErrServiceUnavailable, err)}
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, &FetchError{URL: url, Err: err}
			}
			return data, nil
		}

		resp.Body.Close()
		lastStatus = resp.StatusCode
		if !isTransientStatus(resp.StatusCode) {
			return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
		}
	}

	return nil, &FetchError{
		URL:        url,
		StatusCode: lastStatus,
		Transient:  true,
		Err:        ErrServiceUnavailable,
	}
}

// isTransient reports whether an error should render as the transient
// (retried) diagnostic variant.
func isTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}
