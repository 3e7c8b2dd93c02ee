package material

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
)

// Completion statuses
const (
	CompletionAssigned   = "assigned"
	CompletionInProgress = "in-progress"
	CompletionCompleted  = "completed"
	CompletionReviewed   = "reviewed"
)

type Material struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	FileURL     string    `json:"file_url,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatorName string    `json:"creator_name,omitempty"` // joined from users
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Assignments []Assignment `json:"assignments,omitempty"`
}

// Assignment links a material to a student. Its lifecycle is tied to the
// material: created with it (or via assignee replacement), removed when the
// material is deleted or the assignees are replaced.
type Assignment struct {
	MaterialID       string    `json:"material_id"`
	StudentID        string    `json:"student_id"`
	StudentName      string    `json:"student_name,omitempty"` // joined from users
	AssignedDate     time.Time `json:"assigned_date"`
	DueDate          null.Time `json:"due_date,omitempty"`
	CompletionStatus string    `json:"completion_status"`
	Feedback         string    `json:"feedback,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewMaterial contains information needed to create a new practice Material.
type NewMaterial struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description" validate:"required"`
	FileURL     string    `json:"file_url" validate:"omitempty,url"`
	StudentIDs  []string  `json:"student_ids" validate:"omitempty,dive,required"`
	DueDate     null.Time `json:"due_date"`
}

func (nm *NewMaterial) Validate() error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return core.Validate.Struct(nm)
}

// UpdateMaterial defines what information may be provided to modify an
// existing Material. A nil StudentIDs leaves the assignments untouched; a
// non-nil slice replaces them wholesale, resetting completion history.
type UpdateMaterial struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description" validate:"required"`
	FileURL     string    `json:"file_url" validate:"omitempty,url"`
	StudentIDs  []string  `json:"student_ids" validate:"omitempty,dive,required"`
	DueDate     null.Time `json:"due_date"`
}

func (um *UpdateMaterial) Validate() error {
	um.Title = core.CleanString(um.Title)
	um.Description = core.CleanString(um.Description)
	return core.Validate.Struct(um)
}

// UpdateCompletion updates one assignment's completion state. StudentID is
// required for teachers and admins; students may only target themselves and
// may not touch feedback.
type UpdateCompletion struct {
	StudentID        string `json:"student_id"`
	CompletionStatus string `json:"completion_status" validate:"required,oneof=assigned in-progress completed reviewed"`
	Feedback         string `json:"feedback"`
}

func (uc *UpdateCompletion) Validate() error { return core.Validate.Struct(uc) }

// QueryFilter narrows material list queries. CreatedBy and StudentIn are
// set by the service from the acting user's visibility, not by callers.
type QueryFilter struct {
	Search string `query:"search"`

	CreatedBy string   `json:"-"`
	StudentIn []string `json:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
