package renew

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

const (
	// CoverageDays is the length of one paid cycle.
	CoverageDays = 30

	// GraceDays extends eligibility past EndAt.
	GraceDays = 1

	// scheduleHour is the hour-of-day in which next-cycle attempts are placed.
	scheduleHour = 10
)

// Plan is the coverage window of a charge together with the reservation
// for the next cycle.
type Plan struct {
	StartAt        time.Time
	EndAt          time.Time
	EndGraceAt     time.Time
	NextScheduleAt time.Time
	NextScheduleID string
}

// Planner computes coverage windows and next-attempt times. It performs
// no I/O and has no error conditions.
type Planner struct {
	// Location is the zone whose wall clock places the 10:00-10:59 window.
	// Defaults to the location of the charge instant.
	Location *time.Location

	// Jitter returns a uniform integer in [0, n). Defaults to math/rand/v2.IntN.
	Jitter func(n int) int

	// NewID returns a fresh correlation id. Defaults to uuid.NewString.
	NewID func() string
}

// NewPlanner creates a planner with the default random sources.
func NewPlanner(loc *time.Location) *Planner {
	return &Planner{Location: loc}
}

// Plan computes the plan for a charge made at now.
//
// EndAt is now+30 days, EndGraceAt is now+31 days and NextScheduleAt is
// the day after EndAt at 10:MM:00 where MM is drawn uniformly from 0-59,
// spreading renewals of the same calendar day across one hour.
func (p *Planner) Plan(now time.Time) Plan {
	if p == nil {
		p = &Planner{}
	}
	loc := p.Location
	if loc == nil {
		loc = now.Location()
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = rand.IntN
	}
	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	start := now.In(loc)
	end := start.AddDate(0, 0, CoverageDays)
	grace := start.AddDate(0, 0, CoverageDays+GraceDays)

	next := end.AddDate(0, 0, 1)
	minute := clampMinute(jitter(60))
	next = time.Date(next.Year(), next.Month(), next.Day(), scheduleHour, minute, 0, 0, loc)

	return Plan{
		StartAt:        start,
		EndAt:          end,
		EndGraceAt:     grace,
		NextScheduleAt: next,
		NextScheduleID: newID(),
	}
}

func clampMinute(m int) int {
	if m < 0 {
		return 0
	}
	if m > 59 {
		return 59
	}
	return m
}
