package board

import (
	"fmt"
	"math"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
)

// ApproachingThresholdDays is how close a deadline must be to count as
// approaching.
const ApproachingThresholdDays = 1

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DaysUntilDeadline counts calendar days from now to the deadline in now's
// location. It is negative for past deadlines; ok is false without one.
func DaysUntilDeadline(c database.Card, now time.Time) (days int, ok bool) {
	if c.EndDate == nil {
		return 0, false
	}
	loc := now.Location()
	end := startOfDay(*c.EndDate, loc)
	today := startOfDay(now, loc)
	// Round to absorb DST shifts.
	return int(math.Round(end.Sub(today).Hours() / 24)), true
}

// IsOverdue reports whether the deadline has passed. A done card is
// overdue only if it was completed on a later day than the deadline.
func IsOverdue(c database.Card, now time.Time) bool {
	if c.EndDate == nil {
		return false
	}
	loc := now.Location()
	if c.ColumnID == database.ColumnDone && c.CompletedAt != nil {
		return startOfDay(*c.CompletedAt, loc).After(startOfDay(*c.EndDate, loc))
	}
	days, _ := DaysUntilDeadline(c, now)
	return days < 0
}

// IsApproaching reports a deadline due within the threshold, today included.
func IsApproaching(c database.Card, now time.Time) bool {
	days, ok := DaysUntilDeadline(c, now)
	return ok && days >= 0 && days <= ApproachingThresholdDays
}

// DeadlineStatus is the short label shown next to a deadline.
func DeadlineStatus(c database.Card, now time.Time) string {
	if c.EndDate == nil {
		return ""
	}
	if c.ColumnID == database.ColumnDone {
		if IsOverdue(c, now) {
			return "overdue"
		}
		return "completed"
	}
	days, _ := DaysUntilDeadline(c, now)
	switch {
	case days < 0:
		return "overdue"
	case days == 0:
		return "today"
	case days == 1:
		return "tomorrow"
	case days <= 7:
		return fmt.Sprintf("%d days", days)
	}
	return c.EndDate.In(now.Location()).Format("2 Jan 2006")
}

// UrgentCards returns the cards that are not done and whose deadline is
// overdue or approaching.
func UrgentCards(cards []database.Card, now time.Time) []database.Card {
	var urgent []database.Card
	for _, c := range cards {
		if c.EndDate == nil || c.ColumnID == database.ColumnDone {
			continue
		}
		if IsOverdue(c, now) || IsApproaching(c, now) {
			urgent = append(urgent, c)
		}
	}
	return urgent
}

// ValidDateRange reports whether start is not after end. Missing dates
// are always valid.
func ValidDateRange(start, end *time.Time) bool {
	if start == nil || end == nil {
		return true
	}
	return !start.After(*end)
}
