package domain

import "time"

// UnknownDimensionLabel is the reporting label for records that carry no
// dimension tag.
const UnknownDimensionLabel = "unknown"

// Dimension is an optional grouping label attached to a visit, such as the
// originating server. The zero value means the visit carried no label, which
// is a distinct identity from any concrete label.
type Dimension struct {
	label string
	named bool
}

// NamedDimension returns a Dimension carrying the given label. An empty label
// normalises to the absent dimension.
func NamedDimension(label string) Dimension {
	if label == "" {
		return Dimension{}
	}
	return Dimension{label: label, named: true}
}

// NoDimension returns the absent dimension.
func NoDimension() Dimension {
	return Dimension{}
}

// IsNamed reports whether the dimension carries a label.
func (d Dimension) IsNamed() bool {
	return d.named
}

// Label returns the concrete label, or the empty string for the absent
// dimension. The empty string is reserved as the storage encoding of absence.
func (d Dimension) Label() string {
	return d.label
}

// GroupLabel returns the label used when reporting aggregates, mapping the
// absent dimension to UnknownDimensionLabel.
func (d Dimension) GroupLabel() string {
	if !d.named {
		return UnknownDimensionLabel
	}
	return d.label
}

// Day is a calendar date with no time-of-day component.
type Day struct {
	t time.Time
}

// DayOf truncates t to its calendar date.
func DayOf(t time.Time) Day {
	year, month, day := t.Date()
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, err
	}
	return Day{t: t}, nil
}

// AddDays returns the day shifted by n calendar days. Negative n moves into
// the past.
func (d Day) AddDays(n int) Day {
	return Day{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d.t.Before(other.t)
}

// IsZero reports whether d is the zero day. Zero days act as open bounds in a
// DayWindow.
func (d Day) IsZero() bool {
	return d.t.IsZero()
}

// String formats the day as YYYY-MM-DD, which is also its storage encoding.
func (d Day) String() string {
	return d.t.Format("2006-01-02")
}

// ActivityRecord is one row of recorded activity: a single client seen on a
// single calendar day under a single dimension.
type ActivityRecord struct {
	ID        int64
	ClientID  string
	Dimension Dimension
	LastSeen  time.Time
	Day       Day
}
