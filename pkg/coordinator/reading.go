package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/nimdanitro/pulse-scraper-go/pkg/pulse"
)

// ErrNoData is returned when the sensor endpoint answers without any data
// points.
var ErrNoData = errors.New("no data available from endpoint")

// Reading is the normalized snapshot of one endpoint. A Reading is never
// mutated after it has been published.
type Reading struct {
	EndpointID string `json:"endpointId"`
	RoomName   string `json:"roomName"`
	// Fields maps lower-cased sensor type keys to float64, int64 (timestamp),
	// the raw value (no-unit keys) or nil when the value was unusable.
	Fields map[string]any `json:"fields"`
	// Timestamp is the sample time in epoch seconds, zero when unknown.
	Timestamp int64                 `json:"timestamp"`
	Details   pulse.EndpointDetails `json:"details"`
	FetchedAt time.Time             `json:"fetchedAt"`
}

// Field returns the value of a sensor type and whether the key is present.
func (r *Reading) Field(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Time returns the sample time, or the zero time when it is unknown.
func (r *Reading) Time() time.Time {
	if r == nil || r.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(r.Timestamp, 0).UTC()
}

// UpdateFailedError is what a failed refresh returns. The previous reading
// stays available while it is set.
type UpdateFailedError struct {
	EndpointID string
	Err        error
}

func (e *UpdateFailedError) Error() string {
	var authErr *pulse.AuthenticationError
	var apiErr *pulse.APIError
	switch {
	case errors.As(e.Err, &authErr):
		return fmt.Sprintf("update failed for %s: authentication error: %v", e.EndpointID, e.Err)
	case errors.As(e.Err, &apiErr):
		return fmt.Sprintf("update failed for %s: api error: %v", e.EndpointID, e.Err)
	default:
		return fmt.Sprintf("update failed for %s: %v", e.EndpointID, e.Err)
	}
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }
