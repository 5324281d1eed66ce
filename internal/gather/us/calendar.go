package us

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"quantdash/internal/domain"
)

// settleHour:settleMinute is the ET wall-clock time after which a session's daily bar
// is considered final.
const settleHour, settleMinute = 20, 5

// CalendarSource is the subset of *alpaca.Client used to find sessions.
type CalendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// LatestFinishedSession returns the most recent trading day whose daily bar
// has settled as of now, according to the Alpaca trading calendar. The
// result is the session date at UTC midnight.
func LatestFinishedSession(ctx context.Context, cal CalendarSource, now time.Time) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -10),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	today := now.Format(domain.DateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleHour, settleMinute, 0, 0, et)
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].Date > today {
			continue
		}
		if days[i].Date == today && now.Before(cutoff) {
			continue
		}
		d, err := time.Parse(domain.DateLayout, days[i].Date)
		if err != nil {
			continue
		}
		return d, nil
	}
	return time.Time{}, fmt.Errorf("no finished session in calendar ending %s", today)
}
