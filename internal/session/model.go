package session

import "time"

// Session is one continuous browsing session. At most one row exists per
// client-generated session id.
type Session struct {
	SessionID      string     `db:"session_id" json:"session_id"`
	StudentID      *string    `db:"student_id" json:"student_id,omitempty"`
	StartTime      time.Time  `db:"start_time" json:"start_time"`
	EndTime        *time.Time `db:"end_time" json:"end_time,omitempty"`
	TotalTimeSpent int64      `db:"total_time_spent" json:"total_time_spent"`
	PagesVisited   int        `db:"pages_visited" json:"pages_visited"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Update is a partial session payload. Nil fields were not supplied by the
// client and must never clobber stored values.
type Update struct {
	SessionID      string     `json:"session_id"`
	StudentID      *string    `json:"student_id,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	TotalTimeSpent *int64     `json:"total_time_spent,omitempty"`
	PagesVisited   *int       `json:"pages_visited,omitempty"`
}

func (u *Update) Validate() error {
	if u.SessionID == "" {
		return ErrInvalidSessionID
	}
	return nil
}

// Apply merges an update into the session. It mirrors the upsert statement
// in the postgres repository and is what the in-memory fakes run in tests:
//   - student_id is immutable once set; a conflicting id is not an update
//   - end_time only moves forward
//   - total_time_spent and pages_visited are overwritten when supplied
//   - start_time keeps its first value
func (s *Session) Apply(u Update) {
	if s.StudentID == nil && u.StudentID != nil {
		id := *u.StudentID
		s.StudentID = &id
	}
	if u.EndTime != nil && (s.EndTime == nil || u.EndTime.After(*s.EndTime)) {
		t := *u.EndTime
		s.EndTime = &t
	}
	if u.TotalTimeSpent != nil {
		s.TotalTimeSpent = *u.TotalTimeSpent
	}
	if u.PagesVisited != nil {
		s.PagesVisited = *u.PagesVisited
	}
	s.UpdatedAt = time.Now().UTC()
}

// FromUpdate builds a fresh session row from the first payload seen for a
// session id.
func FromUpdate(u Update) *Session {
	s := &Session{
		SessionID: u.SessionID,
		UpdatedAt: time.Now().UTC(),
	}
	if u.StartTime != nil {
		s.StartTime = *u.StartTime
	}
	if u.StudentID != nil {
		id := *u.StudentID
		s.StudentID = &id
	}
	if u.EndTime != nil {
		t := *u.EndTime
		s.EndTime = &t
	}
	if u.TotalTimeSpent != nil {
		s.TotalTimeSpent = *u.TotalTimeSpent
	}
	if u.PagesVisited != nil {
		s.PagesVisited = *u.PagesVisited
	}
	return s
}
