package storage

import "time"

// TemporalKind discriminates the four temporal PropertyValue variants,
// grounded on original_source/src/storage/v2/temporal.hpp's TemporalType
// enum (Date, LocalTime, LocalDateTime, Duration).
type TemporalKind uint8

const (
	TemporalDate TemporalKind = iota
	TemporalLocalTime
	TemporalLocalDateTime
	TemporalDuration
)

// Temporal is a single scalar (nanoseconds since a kind-specific epoch,
// or nanosecond duration length) tagged with which of the four temporal
// kinds it represents. Using one internal representation for all four
// keeps encoding (propertyvalue.go) and comparison (cmpTemporal)
// uniform, matching Memgraph's single TemporalData payload before this
// package splits it back out into four distinct tags on the wire.
type Temporal struct {
	Kind  TemporalKind
	nanos int64
}

// DateFromTime truncates t to a calendar date at midnight UTC and
// stores nanoseconds since the Unix epoch.
func DateFromTime(t time.Time) Temporal {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Temporal{Kind: TemporalDate, nanos: midnight.UnixNano()}
}

// LocalTimeOfDay stores nanoseconds since midnight, wall-clock, with no
// timezone attached.
func LocalTimeOfDay(hour, min, sec, nsec int) Temporal {
	total := int64(hour)*int64(time.Hour) + int64(min)*int64(time.Minute) +
		int64(sec)*int64(time.Second) + int64(nsec)
	return Temporal{Kind: TemporalLocalTime, nanos: total}
}

// LocalDateTimeFromTime stores nanoseconds since the Unix epoch with no
// timezone attached (wall-clock semantics, like Neo4j's LocalDateTime).
func LocalDateTimeFromTime(t time.Time) Temporal {
	return Temporal{Kind: TemporalLocalDateTime, nanos: t.UnixNano()}
}

// DurationOf stores a signed nanosecond-length duration.
func DurationOf(d time.Duration) Temporal {
	return Temporal{Kind: TemporalDuration, nanos: int64(d)}
}

// Nanos exposes the raw scalar, for callers that already know the kind.
func (t Temporal) Nanos() int64 { return t.nanos }

// AsDuration is only meaningful when Kind == TemporalDuration.
func (t Temporal) AsDuration() time.Duration { return time.Duration(t.nanos) }

// AsTime reconstructs a time.Time for Date and LocalDateTime kinds; it
// panics for LocalTime and Duration, which have no absolute instant.
func (t Temporal) AsTime() time.Time {
	switch t.Kind {
	case TemporalDate, TemporalLocalDateTime:
		return time.Unix(0, t.nanos).UTC()
	default:
		panic("temporal: AsTime called on a kind with no absolute instant")
	}
}
