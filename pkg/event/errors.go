package event

import "errors"

var (
	// ErrMalformed marks input that could not be decoded or failed validation.
	ErrMalformed = errors.New("malformed event")
	// ErrDownstream marks a rejection or failure from the twin store or command channel.
	ErrDownstream = errors.New("downstream failure")
)

// Outcome classifies err for logs and metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrDownstream):
		return "downstream"
	default:
		return "error"
	}
}
