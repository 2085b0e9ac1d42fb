// Package outcome classifies object-store errors and tallies per-bucket
// outcome counts.
package outcome

// Outcome is the classified result of one remediation or listing call.
type Outcome uint8

const (
	Remediated Outcome = iota
	Denied
	Missing
	Throttled
	SessionError
	ConnectionError
	EndpointError
	Unknown
)

// Counter categories. Outcome categories are per bucket; the diagnostic
// ones are written by the scheduler.
const (
	CategoryScanned         = "scanned"
	CategoryRemediated      = "remediated"
	CategoryDenied          = "denied"
	CategoryMissing         = "missing"
	CategoryThrottled       = "throttled"
	CategorySessionError    = "session-error"
	CategoryConnectionError = "connection-error"
	CategoryEndpointError   = "endpoint-error"
	CategoryUnknownError    = "unknown-error"

	CategoryPartitionCalls = "partition-calls"
	CategoryListingDenied  = "listing-denied"
	CategoryListingErrors  = "listing-errors"
)

// Global categories, keyed by bucket id as member.
const (
	GlobalBucketsDenied           = "buckets-denied"
	GlobalBucketsAmbiguousCharset = "buckets-ambiguous-charset"
	GlobalBucketsFailed           = "buckets-failed"
)

// Category returns the counter category for o.
func (o Outcome) Category() string {
	switch o {
	case Remediated:
		return CategoryRemediated
	case Denied:
		return CategoryDenied
	case Missing:
		return CategoryMissing
	case Throttled:
		return CategoryThrottled
	case SessionError:
		return CategorySessionError
	case ConnectionError:
		return CategoryConnectionError
	case EndpointError:
		return CategoryEndpointError
	default:
		return CategoryUnknownError
	}
}

func (o Outcome) String() string {
	return o.Category()
}

// Pauses reports whether the caller must wait before issuing the next call
// from the same worker slot.
func (o Outcome) Pauses() bool {
	return o == Throttled || o == SessionError
}
