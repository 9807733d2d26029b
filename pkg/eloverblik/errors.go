package eloverblik

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoReading is returned when a time series has no reading at a position.
var ErrNoReading = errors.New("no reading at position")

// HTTPError is returned whenever Eloverblik responds with a non-200 status.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("eloverblik api returned status: %d", e.StatusCode)
	}
	return fmt.Sprintf("eloverblik api returned status: %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is an HTTP 401 from Eloverblik, which
// means the refresh token is wrong or expired.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized
}

// APIError is a per-metering point error reported inside a 200 response.
type APIError struct {
	Code int
	Text string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eloverblik error %d: %s", e.Code, e.Text)
}
