package policy

import (
	"fmt"
	"time"
)

const (
	DefaultOpening = 8 * time.Hour
	DefaultClosing = 18 * time.Hour
)

// BusinessHours is the daily window in which a delivery may be started.
// Opening is inclusive, closing exclusive, both measured from midnight.
type BusinessHours struct {
	opening time.Duration
	closing time.Duration
}

func NewBusinessHours(opening, closing time.Duration) (*BusinessHours, error) {
	if opening < 0 || closing > 24*time.Hour || opening >= closing {
		return nil, fmt.Errorf("invalid business hours window %s-%s", opening, closing)
	}
	return &BusinessHours{opening: opening, closing: closing}, nil
}

// DefaultBusinessHours is the 08:00-18:00 window.
func DefaultBusinessHours() *BusinessHours {
	return &BusinessHours{opening: DefaultOpening, closing: DefaultClosing}
}

// ParseBusinessHours builds the window from "HH:MM" clock strings.
func ParseBusinessHours(opening, closing string) (*BusinessHours, error) {
	o, err := parseClock(opening)
	if err != nil {
		return nil, err
	}
	c, err := parseClock(closing)
	if err != nil {
		return nil, err
	}
	return NewBusinessHours(o, c)
}

// IsWithinBusinessHours reports whether the wall clock of t, read on t's own
// day and in t's own location, falls inside the window.
func (b *BusinessHours) IsWithinBusinessHours(t time.Time) bool {
	h, m, s := t.Clock()
	sinceMidnight := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())

	return sinceMidnight >= b.opening && sinceMidnight < b.closing
}

func (b *BusinessHours) String() string {
	return fmt.Sprintf("%s-%s", formatClock(b.opening), formatClock(b.closing))
}

func parseClock(v string) (time.Duration, error) {
	if v == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
