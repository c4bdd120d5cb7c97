package oracle

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrUnavailable matches every *UnavailableError via errors.Is.
var ErrUnavailable = eris.New("oracle: unavailable")

// ErrMissingCredential reports that no API key is configured.
var ErrMissingCredential = eris.New("oracle: api key not configured")

// UnavailableError is returned when the oracle could not produce a completion:
// transport failures, non-2xx responses, timeouts and missing credentials.
type UnavailableError struct {
	Provider   string
	StatusCode int    // 0 when no response was received
	Body       string // upstream response body, if any
	Err        error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("oracle: %s unavailable", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}
