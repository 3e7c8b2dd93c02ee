package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/material"
)

type materialRepository struct {
	db *sqlx.DB
}

var _ material.Repository = (*materialRepository)(nil) // interface compliance check

func NewMaterialRepository(db *sqlx.DB) *materialRepository {
	return &materialRepository{db: db}
}

type materialRow struct {
	ID          string      `db:"material_id"`
	Title       string      `db:"title"`
	Description null.String `db:"description"`
	FileURL     null.String `db:"file_url"`
	CreatedBy   string      `db:"created_by"`
	CreatorName string      `db:"creator_name"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r materialRow) toMaterial() material.Material {
	return material.Material{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description.String,
		FileURL:     r.FileURL.String,
		CreatedBy:   r.CreatedBy,
		CreatorName: r.CreatorName,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type assignmentRow struct {
	MaterialID       string      `db:"material_id"`
	StudentID        string      `db:"student_id"`
	StudentName      string      `db:"student_name"`
	AssignedDate     time.Time   `db:"assigned_date"`
	DueDate          null.Time   `db:"due_date"`
	CompletionStatus string      `db:"completion_status"`
	Feedback         null.String `db:"feedback"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r assignmentRow) toAssignment() material.Assignment {
	return material.Assignment{
		MaterialID:       r.MaterialID,
		StudentID:        r.StudentID,
		StudentName:      r.StudentName,
		AssignedDate:     r.AssignedDate,
		DueDate:          r.DueDate,
		CompletionStatus: r.CompletionStatus,
		Feedback:         r.Feedback.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const materialColumns = `
	m.material_id, m.title, m.description, m.file_url, m.created_by,
	u.first_name || ' ' || u.last_name AS creator_name, m.created_at, m.updated_at`

func (repo materialRepository) CreateMaterial(ctx context.Context, mat material.Material) (material.Material, error) {
	mat.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return material.Material{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO practice_materials (material_id, title, description, file_url, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, query,
		mat.ID, mat.Title, null.NewString(mat.Description, mat.Description != ""),
		null.NewString(mat.FileURL, mat.FileURL != ""), mat.CreatedBy, mat.CreatedAt, mat.UpdatedAt,
	)
	if err != nil {
		return material.Material{}, trapErr(err, "inserting material", material.ErrNotFound)
	}

	if err = insertAssignments(ctx, tx, mat.ID, mat.Assignments); err != nil {
		return material.Material{}, err
	}
	if err = tx.Commit(); err != nil {
		return material.Material{}, errors.Wrap(err, "committing transaction")
	}

	for i := range mat.Assignments {
		mat.Assignments[i].MaterialID = mat.ID
	}
	return mat, nil
}

func (repo materialRepository) GetMaterial(ctx context.Context, id string) (material.Material, error) {
	if _, err := uuid.Parse(id); err != nil {
		return material.Material{}, material.ErrNotFound
	}

	query := `
		SELECT ` + materialColumns + `
		FROM practice_materials m
		JOIN users u ON u.user_id = m.created_by
		WHERE m.material_id = $1`

	var row materialRow
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		return material.Material{}, trapErr(err, "finding material", material.ErrNotFound)
	}
	return row.toMaterial(), nil
}

func (repo materialRepository) QueryMaterials(ctx context.Context, filter *material.QueryFilter, ordering []core.DBOrdering) ([]material.Material, error) {
	query := `
		SELECT ` + materialColumns + `
		FROM practice_materials m
		JOIN users u ON u.user_id = m.created_by
		WHERE true`
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			query += ` AND (m.title ILIKE ? OR m.description ILIKE ?)`
			val := "%" + filter.Search + "%"
			args = append(args, val, val)
		}
		if filter.CreatedBy != "" {
			query += ` AND m.created_by = ?`
			args = append(args, filter.CreatedBy)
		}
		if len(filter.StudentIn) > 0 {
			query += ` AND m.material_id IN (SELECT material_id FROM student_materials WHERE student_id IN (?))`
			args = append(args, filter.StudentIn)
		}
	}
	query += orderBy(ordering)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "expanding query")
	}

	var rows []materialRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying materials")
	}

	materials := make([]material.Material, 0, len(rows))
	for _, row := range rows {
		materials = append(materials, row.toMaterial())
	}
	return materials, nil
}

func (repo materialRepository) UpdateMaterial(ctx context.Context, mat material.Material) (material.Material, error) {
	query := `
		UPDATE practice_materials
		SET title = $1, description = $2, file_url = $3, updated_at = $4
		WHERE material_id = $5`
	res, err := repo.db.ExecContext(ctx, query,
		mat.Title, null.NewString(mat.Description, mat.Description != ""),
		null.NewString(mat.FileURL, mat.FileURL != ""), mat.UpdatedAt, mat.ID,
	)
	if err != nil {
		return material.Material{}, trapErr(err, "updating material", material.ErrNotFound)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return material.Material{}, material.ErrNotFound
	}
	return repo.GetMaterial(ctx, mat.ID)
}

func (repo materialRepository) DeleteMaterial(ctx context.Context, id string) error {
	// assignments go with it (ON DELETE CASCADE)
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM practice_materials WHERE material_id = $1`, id); err != nil {
		return errors.Wrap(err, "deleting material")
	}
	return nil
}

func (repo materialRepository) QueryAssignments(ctx context.Context, materialIDs ...string) ([]material.Assignment, error) {
	if len(materialIDs) == 0 {
		return []material.Assignment{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT a.material_id, a.student_id, u.first_name || ' ' || u.last_name AS student_name,
		       a.assigned_date, a.due_date, a.completion_status, a.feedback, a.created_at, a.updated_at
		FROM student_materials a
		JOIN users u ON u.user_id = a.student_id
		WHERE a.material_id IN (?)
		ORDER BY u.first_name, u.last_name`, materialIDs)
	if err != nil {
		return nil, errors.Wrap(err, "expanding query")
	}

	var rows []assignmentRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}

	assignments := make([]material.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, row.toAssignment())
	}
	return assignments, nil
}

func (repo materialRepository) ReplaceAssignments(ctx context.Context, materialID string, assignments []material.Assignment) ([]material.Assignment, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM student_materials WHERE material_id = $1`, materialID); err != nil {
		return nil, errors.Wrap(err, "clearing assignments")
	}
	if err = insertAssignments(ctx, tx, materialID, assignments); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}

	for i := range assignments {
		assignments[i].MaterialID = materialID
	}
	return assignments, nil
}

func (repo materialRepository) HasAssignment(ctx context.Context, materialID string, studentIDs []string) (bool, error) {
	if len(studentIDs) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In(
		`SELECT EXISTS (SELECT 1 FROM student_materials WHERE material_id = ? AND student_id IN (?))`,
		materialID, studentIDs)
	if err != nil {
		return false, errors.Wrap(err, "expanding query")
	}

	var exists bool
	if err = repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), args...); err != nil {
		return false, errors.Wrap(err, "checking assignment")
	}
	return exists, nil
}

func (repo materialRepository) UpdateCompletion(ctx context.Context, materialID, studentID, status string, feedback null.String) (int, error) {
	query := `UPDATE student_materials SET completion_status = $1, updated_at = $2`
	args := []interface{}{status, time.Now().UTC()}
	if feedback.Valid {
		query += `, feedback = $3 WHERE material_id = $4 AND student_id = $5`
		args = append(args, feedback)
	} else {
		query += ` WHERE material_id = $3 AND student_id = $4`
	}
	args = append(args, materialID, studentID)

	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "updating completion status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting affected rows")
	}
	return int(n), nil
}

func insertAssignments(ctx context.Context, tx *sqlx.Tx, materialID string, assignments []material.Assignment) error {
	query := `
		INSERT INTO student_materials (material_id, student_id, assigned_date, due_date, completion_status, feedback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, a := range assignments {
		_, err := tx.ExecContext(ctx, query,
			materialID, a.StudentID, a.AssignedDate, a.DueDate, a.CompletionStatus,
			null.NewString(a.Feedback, a.Feedback != ""), a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return trapErr(err, "inserting assignment", material.ErrNotFound)
		}
	}
	return nil
}
