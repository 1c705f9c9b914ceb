// Package upload sends single telemetry pings to the submission server and
// classifies the response into a retry decision.
package upload

import "context"

// Outcome is the tri-state verdict of one upload attempt.
type Outcome int

const (
	// Success means the server accepted the ping.
	Success Outcome = iota
	// PermanentClientError means resending the same request can never
	// succeed: a 4xx response or a malformed target URL.
	PermanentClientError
	// RetryableServerError covers 5xx, unexpected statuses, network
	// failures and timeouts.
	RetryableServerError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case PermanentClientError:
		return "permanent"
	case RetryableServerError:
		return "retryable"
	default:
		return "unknown"
	}
}

// Handled reports whether the ping should be removed from the spool. A
// permanent rejection is discarded just like a success.
func (o Outcome) Handled() bool {
	return o == Success || o == PermanentClientError
}

// Result describes one upload attempt. StatusCode is zero when no HTTP
// response was received; Err carries diagnostic detail for non-success.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Uploader sends one ping body to path.
type Uploader interface {
	Upload(ctx context.Context, path string, body []byte) Result
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(ctx context.Context, path string, body []byte) Result

// Upload implements Uploader.
func (f UploaderFunc) Upload(ctx context.Context, path string, body []byte) Result {
	return f(ctx, path, body)
}
