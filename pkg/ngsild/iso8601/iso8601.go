// Package iso8601 parses and formats the temporal literals used by NGSI-LD
// attributes (full date-times, bare dates and bare times).
package iso8601

import (
	"time"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
)

// TemporalType tags the precision of a parsed temporal literal.
type TemporalType string

const (
	TypeDateTime TemporalType = "DateTime"
	TypeDate     TemporalType = "Date"
	TypeTime     TemporalType = "Time"
)

const (
	dateTimeLayout string = "2006-01-02T15:04:05Z"
	dateLayout     string = "2006-01-02"
	timeLayout     string = "15:04:05Z"
)

// Parse accepts an ISO-8601 literal and returns its canonical string form
// (UTC, second precision) together with its temporal type and the parsed
// instant. Unparseable input fails with ErrInvalidDateFormat.
func Parse(value string) (string, TemporalType, time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return FormatDateTime(t), TypeDateTime, t.UTC(), nil
	}

	if t, err := time.Parse(dateLayout, value); err == nil {
		return t.Format(dateLayout), TypeDate, t, nil
	}

	if t, err := time.Parse(timeLayout, value); err == nil {
		return t.Format(timeLayout), TypeTime, t, nil
	}

	if t, err := time.Parse("15:04:05", value); err == nil {
		return t.Format(timeLayout), TypeTime, t, nil
	}

	return "", "", time.Time{}, errors.NewInvalidDateFormatError(
		"not an ISO-8601 date, time or date-time: " + value,
	)
}

// FormatDateTime returns the canonical NGSI-LD form of an instant.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(dateTimeLayout)
}

// UTCNow returns the canonical form of the current instant.
func UTCNow() string {
	return FormatDateTime(time.Now())
}
