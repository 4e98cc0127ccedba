package student

import "time"

// Student is created as a bare stub the first time a session or event
// references the id; profile fields are filled in out of band by the
// catalog services, which are not part of this pipeline.
type Student struct {
	StudentID string    `db:"student_id" json:"student_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
