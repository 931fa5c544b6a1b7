package ingestion

import (
	"fmt"
	"strings"
	"time"
)

// timestampFormats are the accepted timestamp encodings, most specific first.
// Date-only values resolve to midnight UTC.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Validator accepts or rejects record timestamps against the freshness
// window [now - MaxAge, now + SkewTolerance], inclusive at both ends.
type Validator struct {
	MaxAge        time.Duration
	SkewTolerance time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Validate parses the raw timestamp and checks it against the window.
// Returns the parsed instant in UTC. Fails with ErrInvalidTimestamp or
// ErrTimestampOutOfWindow; either failure drops only the offending record.
func (v *Validator) Validate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	var ts time.Time
	parsed := false
	for _, format := range timestampFormats {
		t, err := time.Parse(format, raw)
		if err == nil {
			ts = t
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	ts = ts.UTC()

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	oldest := now.Add(-v.MaxAge)
	newest := now.Add(v.SkewTolerance)
	if ts.Before(oldest) || ts.After(newest) {
		return time.Time{}, fmt.Errorf("%w: %s is outside [%s, %s]",
			ErrTimestampOutOfWindow,
			ts.Format(time.RFC3339),
			oldest.UTC().Format(time.RFC3339),
			newest.UTC().Format(time.RFC3339),
		)
	}

	return ts, nil
}
