package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kailas-cloud/stquery/internal/domain"
)

// SecondsPerDay bounds a point's time of day.
const SecondsPerDay = 86_400

var dateLayouts = []string{"20060102", "2006-01-02"}

// Timestamp is the instant of a trajectory sample in Unix seconds (UTC).
// In JSON it is either an integer number of seconds, an RFC 3339 string, or
// a calendar date ("20240131" or "2024-01-31"). A calendar date resolves to
// midnight UTC and the loader adds the point's time of day.
type Timestamp struct {
	Unix     int64
	DateOnly bool
}

// At returns the Timestamp of t.
func At(t time.Time) Timestamp {
	return Timestamp{Unix: t.Unix()}
}

// ParseTimestamp parses an RFC 3339 instant or a calendar date.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Timestamp{Unix: t.Unix()}, nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return Timestamp{Unix: d.Unix(), DateOnly: true}, nil
		}
	}
	return Timestamp{}, domain.NewValidation("date", fmt.Sprintf("unrecognized date %q", s))
}

// Seconds returns the sample instant, adding timeOfDay to calendar dates.
func (t Timestamp) Seconds(timeOfDay int64) int64 {
	if t.DateOnly {
		return t.Unix + timeOfDay
	}
	return t.Unix
}

// IsZero reports whether no date was given.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// UnmarshalJSON accepts integer seconds or a date string.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(b, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return domain.NewValidation("date", "must be Unix seconds or a date string")
	}
	*t = Timestamp{Unix: n}
	return nil
}

// MarshalJSON writes calendar dates as "2006-01-02" and instants as seconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.DateOnly {
		return json.Marshal(time.Unix(t.Unix, 0).UTC().Format("2006-01-02"))
	}
	return json.Marshal(t.Unix)
}
