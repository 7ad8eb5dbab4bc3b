package payments

import "errors"

var (
	// ErrGatewayUnavailable marks a retryable gateway failure (network,
	// timeout, 5xx). Surfaced to the user as "try again shortly".
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrMalformedResponse marks a non-retryable gateway response that is
	// missing required fields. Never treated as success.
	ErrMalformedResponse = errors.New("malformed gateway response")

	// ErrUnknownProvider is returned when a checkout names a gateway that is
	// not configured.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrUnauthorized marks an administrative action by a non-operator.
	ErrUnauthorized = errors.New("operator authorization required")
)

// IsRetryable reports whether the error is a transient gateway condition
// worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}
