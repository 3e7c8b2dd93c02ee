package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/lesson"
)

type lessonRepository struct {
	db *sqlx.DB
}

var _ lesson.Repository = (*lessonRepository)(nil) // interface compliance check

func NewLessonRepository(db *sqlx.DB) *lessonRepository {
	return &lessonRepository{db: db}
}

type lessonRow struct {
	ID              string      `db:"lesson_id"`
	TeacherID       string      `db:"teacher_id"`
	LessonTypeID    string      `db:"lesson_type_id"`
	LessonTypeName  string      `db:"lesson_type_name"`
	Duration        int         `db:"duration"`
	StartTime       time.Time   `db:"start_time"`
	EndTime         time.Time   `db:"end_time"`
	Status          string      `db:"status"`
	LocationType    string      `db:"location_type"`
	LocationDetails null.String `db:"location_details"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
}

func (r lessonRow) toLesson() lesson.Lesson {
	return lesson.Lesson{
		ID:              r.ID,
		TeacherID:       r.TeacherID,
		LessonTypeID:    r.LessonTypeID,
		LessonTypeName:  r.LessonTypeName,
		Duration:        r.Duration,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Status:          r.Status,
		LocationType:    r.LocationType,
		LocationDetails: r.LocationDetails.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type participantRow struct {
	LessonID         string      `db:"lesson_id"`
	StudentID        string      `db:"student_id"`
	StudentName      string      `db:"student_name"`
	AttendanceStatus string      `db:"attendance_status"`
	Notes            null.String `db:"notes"`
	CreatedAt        time.Time   `db:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"`
}

func (r participantRow) toParticipant() lesson.Participant {
	return lesson.Participant{
		LessonID:         r.LessonID,
		StudentID:        r.StudentID,
		StudentName:      r.StudentName,
		AttendanceStatus: r.AttendanceStatus,
		Notes:            r.Notes.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const lessonColumns = `
	l.lesson_id, l.teacher_id, l.lesson_type_id, lt.name AS lesson_type_name, lt.duration,
	l.start_time, l.end_time, l.status, l.location_type, l.location_details, l.created_at, l.updated_at`

func (repo lessonRepository) CreateLesson(ctx context.Context, les lesson.Lesson) (lesson.Lesson, error) {
	les.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return lesson.Lesson{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO lessons (lesson_id, teacher_id, lesson_type_id, start_time, end_time, status, location_type, location_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = tx.ExecContext(ctx, query,
		les.ID, les.TeacherID, les.LessonTypeID, les.StartTime, les.EndTime, les.Status,
		les.LocationType, null.NewString(les.LocationDetails, les.LocationDetails != ""), les.CreatedAt, les.UpdatedAt,
	)
	if err != nil {
		return lesson.Lesson{}, trapErr(err, "inserting lesson", lesson.ErrNotFound)
	}

	if err = insertParticipants(ctx, tx, les.ID, les.Participants); err != nil {
		return lesson.Lesson{}, err
	}
	if err = tx.Commit(); err != nil {
		return lesson.Lesson{}, errors.Wrap(err, "committing transaction")
	}

	for i := range les.Participants {
		les.Participants[i].LessonID = les.ID
	}
	return les, nil
}

func (repo lessonRepository) GetLesson(ctx context.Context, id string) (lesson.Lesson, error) {
	if _, err := uuid.Parse(id); err != nil {
		return lesson.Lesson{}, lesson.ErrNotFound
	}

	query := `
		SELECT ` + lessonColumns + `
		FROM lessons l
		JOIN lesson_types lt ON lt.lesson_type_id = l.lesson_type_id
		WHERE l.lesson_id = $1`

	var row lessonRow
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		return lesson.Lesson{}, trapErr(err, "finding lesson", lesson.ErrNotFound)
	}
	return row.toLesson(), nil
}

func (repo lessonRepository) QueryLessons(ctx context.Context, filter *lesson.QueryFilter, ordering []core.DBOrdering) ([]lesson.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons l
		JOIN lesson_types lt ON lt.lesson_type_id = l.lesson_type_id
		WHERE true`
	var args []interface{}

	if filter != nil {
		if filter.TeacherID != "" {
			query += ` AND l.teacher_id = ?`
			args = append(args, filter.TeacherID)
		}
		if len(filter.StudentIn) > 0 {
			query += ` AND l.lesson_id IN (SELECT lesson_id FROM lesson_participants WHERE student_id IN (?))`
			args = append(args, filter.StudentIn)
		}
		if !filter.StartFrom.IsZero() {
			query += ` AND l.start_time >= ?`
			args = append(args, filter.StartFrom.UTC())
		}
		if !filter.EndTo.IsZero() {
			query += ` AND l.end_time <= ?`
			args = append(args, filter.EndTo.UTC())
		}
		if filter.Status != "" {
			query += ` AND l.status = ?`
			args = append(args, filter.Status)
		}
	}
	query += orderBy(ordering)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "expanding query")
	}

	var rows []lessonRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}

	lessons := make([]lesson.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, row.toLesson())
	}
	return lessons, nil
}

func (repo lessonRepository) UpdateLesson(ctx context.Context, les lesson.Lesson) (lesson.Lesson, error) {
	query := `
		UPDATE lessons
		SET lesson_type_id = $1, start_time = $2, end_time = $3, status = $4,
		    location_type = $5, location_details = $6, updated_at = $7
		WHERE lesson_id = $8`
	res, err := repo.db.ExecContext(ctx, query,
		les.LessonTypeID, les.StartTime, les.EndTime, les.Status, les.LocationType,
		null.NewString(les.LocationDetails, les.LocationDetails != ""), les.UpdatedAt, les.ID,
	)
	if err != nil {
		return lesson.Lesson{}, trapErr(err, "updating lesson", lesson.ErrNotFound)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	return repo.GetLesson(ctx, les.ID)
}

func (repo lessonRepository) DeleteLesson(ctx context.Context, id string) error {
	// participants go with it (ON DELETE CASCADE)
	if _, err := repo.db.ExecContext(ctx, `DELETE FROM lessons WHERE lesson_id = $1`, id); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	return nil
}

func (repo lessonRepository) QueryParticipants(ctx context.Context, lessonIDs ...string) ([]lesson.Participant, error) {
	if len(lessonIDs) == 0 {
		return []lesson.Participant{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT p.lesson_id, p.student_id, u.first_name || ' ' || u.last_name AS student_name,
		       p.attendance_status, p.notes, p.created_at, p.updated_at
		FROM lesson_participants p
		JOIN users u ON u.user_id = p.student_id
		WHERE p.lesson_id IN (?)
		ORDER BY u.first_name, u.last_name`, lessonIDs)
	if err != nil {
		return nil, errors.Wrap(err, "expanding query")
	}

	var rows []participantRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}

	participants := make([]lesson.Participant, 0, len(rows))
	for _, row := range rows {
		participants = append(participants, row.toParticipant())
	}
	return participants, nil
}

func (repo lessonRepository) ReplaceParticipants(ctx context.Context, lessonID string, participants []lesson.Participant) ([]lesson.Participant, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `DELETE FROM lesson_participants WHERE lesson_id = $1`, lessonID); err != nil {
		return nil, errors.Wrap(err, "clearing participants")
	}
	if err = insertParticipants(ctx, tx, lessonID, participants); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}

	for i := range participants {
		participants[i].LessonID = lessonID
	}
	return participants, nil
}

func (repo lessonRepository) HasParticipant(ctx context.Context, lessonID string, studentIDs []string) (bool, error) {
	if len(studentIDs) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In(
		`SELECT EXISTS (SELECT 1 FROM lesson_participants WHERE lesson_id = ? AND student_id IN (?))`,
		lessonID, studentIDs)
	if err != nil {
		return false, errors.Wrap(err, "expanding query")
	}

	var exists bool
	if err = repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), args...); err != nil {
		return false, errors.Wrap(err, "checking participant")
	}
	return exists, nil
}

func (repo lessonRepository) UpdateAttendance(ctx context.Context, lessonID string, rec lesson.AttendanceRecord) (int, error) {
	query := `
		UPDATE lesson_participants
		SET attendance_status = $1, notes = $2, updated_at = $3
		WHERE lesson_id = $4 AND student_id = $5`
	res, err := repo.db.ExecContext(ctx, query,
		rec.Status, null.NewString(rec.Notes, rec.Notes != ""), time.Now().UTC(), lessonID, rec.StudentID)
	if err != nil {
		return 0, errors.Wrap(err, "updating attendance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting affected rows")
	}
	return int(n), nil
}

func insertParticipants(ctx context.Context, tx *sqlx.Tx, lessonID string, participants []lesson.Participant) error {
	query := `
		INSERT INTO lesson_participants (lesson_id, student_id, attendance_status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, p := range participants {
		_, err := tx.ExecContext(ctx, query,
			lessonID, p.StudentID, p.AttendanceStatus, null.NewString(p.Notes, p.Notes != ""), p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return trapErr(err, "inserting participant", lesson.ErrNotFound)
		}
	}
	return nil
}
