package material

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("material not found")
	ErrPermissionDenied = errors.New("permission denied")
)

type (
	Repository interface {
		// CreateMaterial inserts the material and its assignments atomically.
		CreateMaterial(ctx context.Context, mat Material) (Material, error)
		GetMaterial(ctx context.Context, id string) (Material, error)
		QueryMaterials(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Material, error)
		UpdateMaterial(ctx context.Context, mat Material) (Material, error)
		// DeleteMaterial removes the material and all its assignments.
		DeleteMaterial(ctx context.Context, id string) error

		QueryAssignments(ctx context.Context, materialIDs ...string) ([]Assignment, error)
		// ReplaceAssignments swaps the material's assignees atomically.
		ReplaceAssignments(ctx context.Context, materialID string, assignments []Assignment) ([]Assignment, error)
		HasAssignment(ctx context.Context, materialID string, studentIDs []string) (bool, error)
		// UpdateCompletion updates one assignment row in place and reports
		// the number of rows matched. A zero-valued Feedback null.String
		// leaves the stored feedback untouched.
		UpdateCompletion(ctx context.Context, materialID, studentID, status string, feedback null.String) (int, error)
	}

	// ChildResolver resolves a parent to the student IDs it may act on
	// behalf of; satisfied by *user.Service.
	ChildResolver interface {
		ChildIDs(ctx context.Context, parentID string) ([]string, error)
	}

	Service struct {
		repo     Repository
		children ChildResolver
		logger   core.Logger
	}
)

func NewService(repo Repository, children ChildResolver, logger core.Logger) *Service {
	return &Service{repo: repo, children: children, logger: logger}
}

// Query returns the materials visible to the acting user: admins see all,
// teachers the ones they created, students the ones assigned to them,
// parents the ones assigned to any of their children.
func (svc *Service) Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Material, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()

	switch {
	case actor.IsAdmin():
	case actor.IsTeacher():
		filter.CreatedBy = actor.ID
	case actor.IsStudent():
		filter.StudentIn = []string{actor.ID}
	case actor.IsParent():
		childIDs, err := svc.children.ChildIDs(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(childIDs) == 0 {
			return []Material{}, nil
		}
		filter.StudentIn = childIDs
	default:
		return nil, ErrPermissionDenied
	}

	ordering := []core.DBOrdering{{Field: "created_at"}} // newest first
	materials, err := svc.repo.QueryMaterials(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}
	return svc.attachAssignments(ctx, materials)
}

// Get returns a single material if the acting user may read it. Any reader
// failing the visibility check gets ErrPermissionDenied; the material's
// existence is not hidden.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Material, error) {
	mat, err := svc.repo.GetMaterial(ctx, id)
	if err != nil {
		return Material{}, err
	}

	switch {
	case actor.IsAdmin():
	case actor.IsTeacher():
		if mat.CreatedBy != actor.ID {
			return Material{}, ErrPermissionDenied
		}
	case actor.IsStudent():
		ok, err := svc.repo.HasAssignment(ctx, id, []string{actor.ID})
		if err != nil {
			return Material{}, errors.Wrap(err, "checking assignment")
		}
		if !ok {
			return Material{}, ErrPermissionDenied
		}
	case actor.IsParent():
		childIDs, err := svc.children.ChildIDs(ctx, actor.ID)
		if err != nil {
			return Material{}, err
		}
		ok := false
		if len(childIDs) > 0 {
			if ok, err = svc.repo.HasAssignment(ctx, id, childIDs); err != nil {
				return Material{}, errors.Wrap(err, "checking assignment")
			}
		}
		if !ok {
			return Material{}, ErrPermissionDenied
		}
	default:
		return Material{}, ErrPermissionDenied
	}

	assignments, err := svc.repo.QueryAssignments(ctx, id)
	if err != nil {
		return Material{}, errors.Wrap(err, "querying assignments")
	}
	mat.Assignments = assignments
	return mat, nil
}

// Create registers a material owned by the acting user, optionally assigned
// to students. Only teachers and admins may create materials.
func (svc *Service) Create(ctx context.Context, actor user.User, nm NewMaterial) (Material, error) {
	if !(actor.IsTeacher() || actor.IsAdmin()) {
		return Material{}, ErrPermissionDenied
	}
	if err := nm.Validate(); err != nil {
		return Material{}, err
	}

	now := time.Now().UTC()
	mat := Material{
		Title:       nm.Title,
		Description: nm.Description,
		FileURL:     nm.FileURL,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Assignments: newAssignments(nm.StudentIDs, nm.DueDate, now),
	}

	mat, err := svc.repo.CreateMaterial(ctx, mat)
	if err != nil {
		return Material{}, errors.Wrap(err, "creating material")
	}
	return mat, nil
}

// Update modifies a material created by the acting user (or any material
// for an admin). A non-nil StudentIDs replaces the assignees, discarding
// prior completion history.
func (svc *Service) Update(ctx context.Context, actor user.User, id string, um UpdateMaterial) (Material, error) {
	mat, err := svc.authorizeWrite(ctx, actor, id)
	if err != nil {
		return Material{}, err
	}
	if err = um.Validate(); err != nil {
		return Material{}, err
	}

	mat.Title = um.Title
	mat.Description = um.Description
	mat.FileURL = um.FileURL
	mat.UpdatedAt = time.Now().UTC()

	mat, err = svc.repo.UpdateMaterial(ctx, mat)
	if err != nil {
		return Material{}, errors.Wrap(err, "updating material")
	}

	if um.StudentIDs != nil {
		mat.Assignments, err = svc.repo.ReplaceAssignments(ctx, id, newAssignments(um.StudentIDs, um.DueDate, mat.UpdatedAt))
		if err != nil {
			return Material{}, errors.Wrap(err, "replacing assignments")
		}
	} else {
		if mat.Assignments, err = svc.repo.QueryAssignments(ctx, id); err != nil {
			return Material{}, errors.Wrap(err, "querying assignments")
		}
	}
	return mat, nil
}

// UpdateCompletion updates one assignment's completion state.
// Students may only update their own assignment's status; feedback is left
// untouched. Teachers and admins may update any assignment's status and
// feedback but must name the target student explicitly.
func (svc *Service) UpdateCompletion(ctx context.Context, actor user.User, id string, uc UpdateCompletion) error {
	if _, err := svc.repo.GetMaterial(ctx, id); err != nil {
		return err
	}
	if err := uc.Validate(); err != nil {
		return err
	}

	var studentID string
	var feedback null.String

	switch {
	case actor.IsStudent():
		if uc.StudentID != "" && uc.StudentID != actor.ID {
			return ErrPermissionDenied
		}
		studentID = actor.ID
	case actor.IsTeacher() || actor.IsAdmin():
		if uc.StudentID == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "this field is required"})
		}
		studentID = uc.StudentID
		feedback = null.StringFrom(uc.Feedback)
	default:
		return ErrPermissionDenied
	}

	n, err := svc.repo.UpdateCompletion(ctx, id, studentID, uc.CompletionStatus, feedback)
	if err != nil {
		return errors.Wrap(err, "updating completion status")
	}
	if n == 0 {
		svc.logger.Warn("completion update matched no assignment",
			map[string]interface{}{"material_id": id, "student_id": studentID})
	}
	return nil
}

// Delete removes a material and all its assignments.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, err := svc.authorizeWrite(ctx, actor, id); err != nil {
		return err
	}
	return svc.repo.DeleteMaterial(ctx, id)
}

// authorizeWrite loads the material and checks the creator-or-admin rule.
func (svc *Service) authorizeWrite(ctx context.Context, actor user.User, id string) (Material, error) {
	mat, err := svc.repo.GetMaterial(ctx, id)
	if err != nil {
		return Material{}, err
	}
	if !actor.IsAdmin() && mat.CreatedBy != actor.ID {
		return Material{}, ErrPermissionDenied
	}
	return mat, nil
}

func (svc *Service) attachAssignments(ctx context.Context, materials []Material) ([]Material, error) {
	if len(materials) == 0 {
		return materials, nil
	}
	ids := make([]string, 0, len(materials))
	for _, mat := range materials {
		ids = append(ids, mat.ID)
	}
	assignments, err := svc.repo.QueryAssignments(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}

	byMaterial := make(map[string][]Assignment, len(materials))
	for _, a := range assignments {
		byMaterial[a.MaterialID] = append(byMaterial[a.MaterialID], a)
	}
	for i := range materials {
		materials[i].Assignments = byMaterial[materials[i].ID]
	}
	return materials, nil
}

func newAssignments(studentIDs []string, dueDate null.Time, tstamp time.Time) []Assignment {
	assignments := make([]Assignment, 0, len(studentIDs))
	for _, sid := range studentIDs {
		assignments = append(assignments, Assignment{
			StudentID:        sid,
			AssignedDate:     tstamp,
			DueDate:          dueDate,
			CompletionStatus: CompletionAssigned,
			CreatedAt:        tstamp,
			UpdatedAt:        tstamp,
		})
	}
	return assignments
}
