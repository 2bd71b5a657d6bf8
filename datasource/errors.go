package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// genericErrorMessage is what callers see when the upstream gave us nothing
// usable to report.
const genericErrorMessage = "Error reading Prometheus"

// QueryError is the one error shape everything above the HTTP layer sees.
// Whatever the transport or the upstream did wrong gets folded into a
// message, the HTTP status (0 when the request never got out) and the
// request id we stamped on the outbound call, so a user-facing error can
// always be matched to an upstream log line.
type QueryError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *QueryError) Error() string {
	if e.RequestID == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (request %s)", e.Message, e.RequestID)
}

// normalizeError folds any transport or upstream failure into a QueryError.
// Context cancellation passes through untouched so callers can short-circuit
// on it instead of reporting it.
func normalizeError(err error, status int, upstreamMsg, requestID string) error {
	if err == nil {
		return nil
	}
	if isCancellation(err) {
		return err
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	msg := upstreamMsg
	if msg == "" {
		msg = genericErrorMessage
	}
	return &QueryError{Status: status, Message: msg, RequestID: requestID}
}

// isCancellation reports whether err is the caller giving up, as opposed to
// something actually going wrong. A dashboard changing time range mid-flight
// cancels its in-flight queries constantly; those must not surface as errors.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// statusMessage maps an HTTP status to a fallback message for upstreams that
// return non-JSON error bodies (proxies, auth layers).
func statusMessage(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "Authentication error querying Prometheus"
	case http.StatusNotFound:
		return "Prometheus endpoint not found"
	default:
		return genericErrorMessage
	}
}
