package outcome

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
)

// Sentinels for adapters that do not surface HTTP status codes.
var (
	ErrDenied    = errors.New("access denied")
	ErrNotFound  = errors.New("not found")
	ErrThrottled = errors.New("throttled")
)

type statusCoder interface {
	HTTPStatusCode() int
}

// Classify maps a raw object-store error to an Outcome. A nil error is
// Remediated.
func Classify(err error) Outcome {
	if err == nil {
		return Remediated
	}

	switch {
	case errors.Is(err, ErrDenied):
		return Denied
	case errors.Is(err, ErrNotFound):
		return Missing
	case errors.Is(err, ErrThrottled):
		return Throttled
	}

	var dnsErr *net.DNSError
	var endpointErr *aws.EndpointNotFoundError
	if errors.As(err, &dnsErr) || errors.As(err, &endpointErr) {
		return EndpointError
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if o, ok := fromStatus(sc.HTTPStatusCode()); ok {
			return o
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if o, ok := fromCode(apiErr.ErrorCode()); ok {
			return o
		}
	}

	if isConnectionError(err) {
		return ConnectionError
	}
	return Unknown
}

func fromStatus(status int) (Outcome, bool) {
	switch status {
	case http.StatusForbidden:
		return Denied, true
	case http.StatusNotFound:
		return Missing, true
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		return Throttled, true
	case http.StatusBadRequest:
		return SessionError, true
	}
	return Unknown, false
}

func fromCode(code string) (Outcome, bool) {
	switch code {
	case "AccessDenied", "AllAccessDisabled", "AccountProblem":
		return Denied, true
	case "NoSuchKey", "NoSuchBucket", "NoSuchVersion", "NotFound":
		return Missing, true
	case "SlowDown", "ServiceUnavailable", "InternalError", "Throttling", "ThrottlingException":
		return Throttled, true
	case "ExpiredToken", "InvalidToken", "TokenRefreshRequired", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return SessionError, true
	}
	return Unknown, false
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
