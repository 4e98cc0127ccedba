package activity

import "time"

// Aggregate is the per-student, per-day rollup behind the dashboard
// activity charts. Counters only ever grow within a day.
type Aggregate struct {
	StudentID      string    `db:"student_id" json:"student_id"`
	Date           time.Time `db:"activity_date" json:"date"`
	SessionCount   int64     `db:"session_count" json:"session_count"`
	TotalTimeSpent int64     `db:"total_time_spent" json:"total_time_spent"`
	PageViews      int64     `db:"page_views" json:"page_views"`
	Interactions   int64     `db:"interactions" json:"interactions"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Delta is one additive contribution to an aggregate key. Reconciling an
// event produces a delta of ones and zeros; deltas merge commutatively, so
// arrival order across batches does not matter.
type Delta struct {
	StudentID      string
	Date           time.Time
	SessionCount   int64
	TotalTimeSpent int64
	PageViews      int64
	Interactions   int64
}

// DayOf truncates an event timestamp to the aggregate's date key, in UTC.
func DayOf(ts time.Time) time.Time {
	return ts.UTC().Truncate(24 * time.Hour)
}
