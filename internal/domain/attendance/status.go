// Package attendance decides whether a teacher may submit attendance from
// the location their device reported.
package attendance

import (
	"fmt"
	"strings"
)

// Status is the kind of attendance being submitted.
type Status string

// Attendance statuses.
const (
	Present Status = "present"
	Absent  Status = "absent"
	HalfDay Status = "half_day"
	Leave   Status = "leave"
)

// Statuses lists every valid status in display order.
func Statuses() []Status {
	return []Status{Present, Absent, HalfDay, Leave}
}

// ParseStatus accepts the wire names case-insensitively, plus the
// "halfday" and "half-day" spellings.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present":
		return Present, nil
	case "absent":
		return Absent, nil
	case "half_day", "halfday", "half-day":
		return HalfDay, nil
	case "leave":
		return Leave, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// RequiresLocation reports whether s must pass the proximity check.
func (s Status) RequiresLocation() bool {
	return s != Leave
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case Present, Absent, HalfDay, Leave:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }
