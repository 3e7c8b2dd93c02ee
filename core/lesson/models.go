package lesson

import (
	"time"

	"github.com/trezcool/muziki/core"
)

// Lesson statuses. Status reflects the real-world outcome of the lesson;
// any value may overwrite any other (no transition graph is enforced).
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Attendance statuses
const (
	AttendancePending = "pending"
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
)

// Location types
const (
	LocationInPerson = "in-person"
	LocationVirtual  = "virtual"
)

type Lesson struct {
	ID              string    `json:"id"`
	TeacherID       string    `json:"teacher_id"`
	LessonTypeID    string    `json:"lesson_type_id"`
	LessonTypeName  string    `json:"lesson_type_name,omitempty"` // joined from lesson_types
	Duration        int       `json:"duration,omitempty"`         // minutes, joined from lesson_types
	StartTime       time.Time `json:"start_time"`                 // UTC
	EndTime         time.Time `json:"end_time"`                   // UTC
	Status          string    `json:"status"`
	LocationType    string    `json:"location_type"`
	LocationDetails string    `json:"location_details,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Participants []Participant `json:"participants,omitempty"`
}

// Participant is a student on a lesson's roster. Its lifecycle is tied to
// the lesson: created with it (or via roster replacement), removed when the
// lesson is deleted or the roster is replaced.
type Participant struct {
	LessonID         string    `json:"lesson_id"`
	StudentID        string    `json:"student_id"`
	StudentName      string    `json:"student_name,omitempty"` // joined from users
	AttendanceStatus string    `json:"attendance_status"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewLesson contains information needed to schedule a new Lesson.
type NewLesson struct {
	LessonTypeID    string    `json:"lesson_type_id" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required"`
	LocationType    string    `json:"location_type" validate:"required,oneof=in-person virtual"`
	LocationDetails string    `json:"location_details"`
	StudentIDs      []string  `json:"student_ids" validate:"min=1,dive,required"`
}

func (nl *NewLesson) Validate() error {
	nl.LocationDetails = core.CleanString(nl.LocationDetails)
	return core.Validate.Struct(nl)
}

// UpdateLesson defines what information may be provided to modify an
// existing Lesson. A nil StudentIDs leaves the roster untouched; a non-nil
// slice replaces it wholesale, discarding prior attendance history.
type UpdateLesson struct {
	LessonTypeID    string    `json:"lesson_type_id" validate:"required"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required"`
	Status          string    `json:"status" validate:"required,oneof=scheduled completed cancelled"`
	LocationType    string    `json:"location_type" validate:"required,oneof=in-person virtual"`
	LocationDetails string    `json:"location_details"`
	StudentIDs      []string  `json:"student_ids" validate:"omitempty,dive,required"`
}

func (ul *UpdateLesson) Validate() error {
	ul.LocationDetails = core.CleanString(ul.LocationDetails)
	return core.Validate.Struct(ul)
}

// AttendanceRecord updates one participant's attendance on a lesson.
type AttendanceRecord struct {
	StudentID string `json:"student_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present absent late excused"`
	Notes     string `json:"notes"`
}

// UpdateAttendance is a batch of attendance updates for one lesson.
type UpdateAttendance struct {
	Records []AttendanceRecord `json:"attendance_records" validate:"min=1,dive"`
}

func (ua *UpdateAttendance) Validate() error { return core.Validate.Struct(ua) }

// QueryFilter narrows lesson list queries. TeacherID and StudentIn are set
// by the service from the acting user's visibility, not by callers.
type QueryFilter struct {
	StartFrom time.Time `query:"start_from"`
	EndTo     time.Time `query:"end_to"`
	Status    string    `query:"status"`

	TeacherID string   `json:"-"`
	StudentIn []string `json:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}
