package board

import (
	"fmt"
	"time"
)

// RelativeAge renders t relative to now: minutes under an hour, hours under a
// day, days under a week, then the calendar date. Future times count as "0m ago".
func RelativeAge(now, t time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return t.In(now.Location()).Format("Jan 2, 2006")
}
