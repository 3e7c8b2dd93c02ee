package lesson

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("lesson not found")
	ErrPermissionDenied = errors.New("permission denied")
)

type (
	Repository interface {
		// CreateLesson inserts the lesson and its participants atomically.
		CreateLesson(ctx context.Context, les Lesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		QueryLessons(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Lesson, error)
		UpdateLesson(ctx context.Context, les Lesson) (Lesson, error)
		// DeleteLesson removes the lesson and all its participants.
		DeleteLesson(ctx context.Context, id string) error

		QueryParticipants(ctx context.Context, lessonIDs ...string) ([]Participant, error)
		// ReplaceParticipants swaps the lesson's whole roster atomically.
		ReplaceParticipants(ctx context.Context, lessonID string, participants []Participant) ([]Participant, error)
		HasParticipant(ctx context.Context, lessonID string, studentIDs []string) (bool, error)
		// UpdateAttendance updates one participant row in place and reports
		// the number of rows matched.
		UpdateAttendance(ctx context.Context, lessonID string, rec AttendanceRecord) (int, error)
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

// Query returns the lessons visible to the acting user:
// admins see all, teachers their own, students the lessons they are on,
// parents the lessons any of their children are on.
func (svc *Service) Query(ctx context.Context, actor user.User, filter *QueryFilter) ([]Lesson, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()

	switch {
	case actor.IsAdmin():
	case actor.IsTeacher():
		filter.TeacherID = actor.ID
	case actor.IsStudent():
		filter.StudentIn = []string{actor.ID}
	case actor.IsParent():
		childIDs, err := svc.children.ChildIDs(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(childIDs) == 0 {
			return []Lesson{}, nil
		}
		filter.StudentIn = childIDs
	default:
		return nil, ErrPermissionDenied
	}

	ordering := []core.DBOrdering{{Field: "start_time", Ascending: true}}
	lessons, err := svc.repo.QueryLessons(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}
	return svc.attachParticipants(ctx, lessons)
}

// Get returns a single lesson if the acting user may read it.
// Students and parents failing the visibility check get ErrPermissionDenied;
// a teacher reading a non-owned lesson gets ErrNotFound, matching the
// teacher-scoped base query.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Lesson, error) {
	les, err := svc.repo.GetLesson(ctx, id)
	if err != nil {
		return Lesson{}, err
	}

	switch {
	case actor.IsAdmin():
	case actor.IsTeacher():
		if les.TeacherID != actor.ID {
			return Lesson{}, ErrNotFound
		}
	case actor.IsStudent():
		ok, err := svc.repo.HasParticipant(ctx, id, []string{actor.ID})
		if err != nil {
			return Lesson{}, errors.Wrap(err, "checking participant")
		}
		if !ok {
			return Lesson{}, ErrPermissionDenied
		}
	case actor.IsParent():
		childIDs, err := svc.children.ChildIDs(ctx, actor.ID)
		if err != nil {
			return Lesson{}, err
		}
		ok := false
		if len(childIDs) > 0 {
			if ok, err = svc.repo.HasParticipant(ctx, id, childIDs); err != nil {
				return Lesson{}, errors.Wrap(err, "checking participant")
			}
		}
		if !ok {
			return Lesson{}, ErrPermissionDenied
		}
	default:
		return Lesson{}, ErrPermissionDenied
	}

	participants, err := svc.repo.QueryParticipants(ctx, id)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "querying participants")
	}
	les.Participants = participants
	return les, nil
}

// Create schedules a lesson owned by the acting user, with every student on
// the roster pending. Only teachers and admins may create lessons.
func (svc *Service) Create(ctx context.Context, actor user.User, nl NewLesson) (Lesson, error) {
	if !(actor.IsTeacher() || actor.IsAdmin()) {
		return Lesson{}, ErrPermissionDenied
	}
	if err := nl.Validate(); err != nil {
		return Lesson{}, err
	}

	now := time.Now().UTC()
	les := Lesson{
		TeacherID:       actor.ID,
		LessonTypeID:    nl.LessonTypeID,
		StartTime:       nl.StartTime.UTC(),
		EndTime:         nl.EndTime.UTC(),
		Status:          StatusScheduled,
		LocationType:    nl.LocationType,
		LocationDetails: nl.LocationDetails,
		CreatedAt:       now,
		UpdatedAt:       now,
		Participants:    pendingParticipants(nl.StudentIDs, now),
	}

	les, err := svc.repo.CreateLesson(ctx, les)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "creating lesson")
	}
	return les, nil
}

// Update modifies a lesson owned by the acting user (or any lesson for an
// admin). A non-nil StudentIDs replaces the roster, resetting attendance.
func (svc *Service) Update(ctx context.Context, actor user.User, id string, ul UpdateLesson) (Lesson, error) {
	les, err := svc.authorizeWrite(ctx, actor, id)
	if err != nil {
		return Lesson{}, err
	}
	if err = ul.Validate(); err != nil {
		return Lesson{}, err
	}

	les.LessonTypeID = ul.LessonTypeID
	les.StartTime = ul.StartTime.UTC()
	les.EndTime = ul.EndTime.UTC()
	les.Status = ul.Status
	les.LocationType = ul.LocationType
	les.LocationDetails = ul.LocationDetails
	les.UpdatedAt = time.Now().UTC()

	les, err = svc.repo.UpdateLesson(ctx, les)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "updating lesson")
	}

	if ul.StudentIDs != nil {
		les.Participants, err = svc.repo.ReplaceParticipants(ctx, id, pendingParticipants(ul.StudentIDs, les.UpdatedAt))
		if err != nil {
			return Lesson{}, errors.Wrap(err, "replacing participants")
		}
	} else {
		if les.Participants, err = svc.repo.QueryParticipants(ctx, id); err != nil {
			return Lesson{}, errors.Wrap(err, "querying participants")
		}
	}
	return les, nil
}

// UpdateAttendance applies a batch of attendance updates to a lesson owned
// by the acting user (or any lesson for an admin). A record referencing a
// student who is not on the roster matches no row; it is skipped with a
// warning rather than failing the batch.
func (svc *Service) UpdateAttendance(ctx context.Context, actor user.User, id string, ua UpdateAttendance) error {
	if _, err := svc.authorizeWrite(ctx, actor, id); err != nil {
		return err
	}
	if err := ua.Validate(); err != nil {
		return err
	}

	for _, rec := range ua.Records {
		n, err := svc.repo.UpdateAttendance(ctx, id, rec)
		if err != nil {
			return errors.Wrap(err, "updating attendance")
		}
		if n == 0 {
			svc.logger.Warn("attendance record matched no participant",
				map[string]interface{}{"lesson_id": id, "student_id": rec.StudentID})
		}
	}
	return nil
}

// Delete removes a lesson and its whole roster.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	if _, err := svc.authorizeWrite(ctx, actor, id); err != nil {
		return err
	}
	return svc.repo.DeleteLesson(ctx, id)
}

// authorizeWrite loads the lesson and checks the owner-or-admin rule.
func (svc *Service) authorizeWrite(ctx context.Context, actor user.User, id string) (Lesson, error) {
	les, err := svc.repo.GetLesson(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	if !actor.IsAdmin() && les.TeacherID != actor.ID {
		return Lesson{}, ErrPermissionDenied
	}
	return les, nil
}

func (svc *Service) attachParticipants(ctx context.Context, lessons []Lesson) ([]Lesson, error) {
	if len(lessons) == 0 {
		return lessons, nil
	}
	ids := make([]string, 0, len(lessons))
	for _, les := range lessons {
		ids = append(ids, les.ID)
	}
	participants, err := svc.repo.QueryParticipants(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying participants")
	}

	byLesson := make(map[string][]Participant, len(lessons))
	for _, p := range participants {
		byLesson[p.LessonID] = append(byLesson[p.LessonID], p)
	}
	for i := range lessons {
		lessons[i].Participants = byLesson[lessons[i].ID]
	}
	return lessons, nil
}

func pendingParticipants(studentIDs []string, tstamp time.Time) []Participant {
	participants := make([]Participant, 0, len(studentIDs))
	for _, sid := range studentIDs {
		participants = append(participants, Participant{
			StudentID:        sid,
			AttendanceStatus: AttendancePending,
			CreatedAt:        tstamp,
			UpdatedAt:        tstamp,
		})
	}
	return participants
}
