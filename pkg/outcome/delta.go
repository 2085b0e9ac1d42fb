package outcome

// Delta is an additive set of per-bucket outcome counts.
type Delta struct {
	Scanned         int64 `json:"scanned"`
	Remediated      int64 `json:"remediated"`
	Denied          int64 `json:"denied"`
	Missing         int64 `json:"missing"`
	Throttled       int64 `json:"throttled"`
	SessionError    int64 `json:"session_error"`
	ConnectionError int64 `json:"connection_error"`
	EndpointError   int64 `json:"endpoint_error"`
	Unknown         int64 `json:"unknown_error"`
}

// CategoryCount is one non-zero entry of a Delta.
type CategoryCount struct {
	Category string
	Count    int64
}

// Record counts one scanned key with outcome o.
func (d *Delta) Record(o Outcome) {
	d.Scanned++
	*d.field(o)++
}

// Merge adds other into d.
func (d *Delta) Merge(other Delta) {
	d.Scanned += other.Scanned
	d.Remediated += other.Remediated
	d.Denied += other.Denied
	d.Missing += other.Missing
	d.Throttled += other.Throttled
	d.SessionError += other.SessionError
	d.ConnectionError += other.ConnectionError
	d.EndpointError += other.EndpointError
	d.Unknown += other.Unknown
}

// Count returns the count for outcome o.
func (d Delta) Count(o Outcome) int64 {
	return *d.field(o)
}

// IsZero reports whether no category has been counted.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Categories returns the non-zero categories in a fixed order.
func (d Delta) Categories() []CategoryCount {
	all := [...]CategoryCount{
		{CategoryScanned, d.Scanned},
		{CategoryRemediated, d.Remediated},
		{CategoryDenied, d.Denied},
		{CategoryMissing, d.Missing},
		{CategoryThrottled, d.Throttled},
		{CategorySessionError, d.SessionError},
		{CategoryConnectionError, d.ConnectionError},
		{CategoryEndpointError, d.EndpointError},
		{CategoryUnknownError, d.Unknown},
	}
	out := make([]CategoryCount, 0, len(all))
	for _, c := range all {
		if c.Count != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Apply adds n to the named category. Unknown categories are ignored and
// reported as false.
func (d *Delta) Apply(category string, n int64) bool {
	switch category {
	case CategoryScanned:
		d.Scanned += n
	case CategoryRemediated:
		d.Remediated += n
	case CategoryDenied:
		d.Denied += n
	case CategoryMissing:
		d.Missing += n
	case CategoryThrottled:
		d.Throttled += n
	case CategorySessionError:
		d.SessionError += n
	case CategoryConnectionError:
		d.ConnectionError += n
	case CategoryEndpointError:
		d.EndpointError += n
	case CategoryUnknownError:
		d.Unknown += n
	default:
		return false
	}
	return true
}

func (d *Delta) field(o Outcome) *int64 {
	switch o {
	case Remediated:
		return &d.Remediated
	case Denied:
		return &d.Denied
	case Missing:
		return &d.Missing
	case Throttled:
		return &d.Throttled
	case SessionError:
		return &d.SessionError
	case ConnectionError:
		return &d.ConnectionError
	case EndpointError:
		return &d.EndpointError
	default:
		return &d.Unknown
	}
}
