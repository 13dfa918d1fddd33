package service

import (
	"time"

	"roadbook/internal/models"
)

// RevealGate decides whether day-by-day detail of a roadbook may be shown.
type RevealGate struct {
	DaysBefore int
}

func NewRevealGate(daysBefore int) RevealGate {
	if daysBefore <= 0 {
		daysBefore = models.DefaultRevealDaysBefore
	}
	return RevealGate{DaysBefore: daysBefore}
}

// RevealDate returns start_date minus DaysBefore calendar days, in the start date's
// own location, or nil when the booking has no start date.
func (g RevealGate) RevealDate(b *models.Booking) *time.Time {
	if b == nil || b.StartDate == nil {
		return nil
	}
	d := b.StartDate.AddDate(0, 0, -g.DaysBefore)
	return &d
}

// IsRevealed is monotonic in now; force_reveal wins over any date.
func (g RevealGate) IsRevealed(b *models.Booking, now time.Time) bool {
	if b == nil {
		return false
	}
	if b.ForceReveal {
		return true
	}
	revealAt := g.RevealDate(b)
	if revealAt == nil {
		return false
	}
	return !now.In(revealAt.Location()).Before(*revealAt)
}
