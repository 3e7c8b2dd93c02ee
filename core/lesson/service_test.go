package lesson_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/lesson"
	"github.com/trezcool/muziki/core/user"
	"github.com/trezcool/muziki/storage/database/dummy"
)

func TestMain(m *testing.M) {
	core.Conf = core.NewConfig(os.TempDir())
	core.Conf.TestMode = true
	os.Exit(m.Run())
}

// testLogger records warnings so no-op updates can be asserted on.
type testLogger struct {
	warnings []string
}

func (l *testLogger) Debug(string, ...interface{}) {}
func (l *testLogger) Info(string, ...interface{})  {}
func (l *testLogger) Warn(msg string, _ ...interface{}) {
	l.warnings = append(l.warnings, msg)
}
func (l *testLogger) Error(string, ...interface{}) {}
func (l *testLogger) Fatal(string, ...interface{}) {}

type fixture struct {
	svc     *lesson.Service
	usrRepo *dummy.UserRepository
	logger  *testLogger

	admin    user.User
	teacher  user.User
	teacher2 user.User
	student  user.User
	student2 user.User
	parent   user.User
	parent2  user.User // no children
}

func newUser(t *testing.T, repo *dummy.UserRepository, first, role string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr, err := repo.CreateUser(context.Background(), user.User{
		FirstName: first,
		LastName:  "Test",
		Email:     first + "@test.cd",
		Role:      role,
		Status:    user.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func setup(t *testing.T) *fixture {
	t.Helper()
	usrRepo := dummy.NewUserRepository()
	logger := new(testLogger)

	f := &fixture{
		svc:     lesson.NewService(dummy.NewLessonRepository(), childResolver{usrRepo}, logger),
		usrRepo: usrRepo,
		logger:  logger,

		admin:    newUser(t, usrRepo, "admin", user.RoleAdmin),
		teacher:  newUser(t, usrRepo, "teacher", user.RoleTeacher),
		teacher2: newUser(t, usrRepo, "teacher2", user.RoleTeacher),
		student:  newUser(t, usrRepo, "student", user.RoleStudent),
		student2: newUser(t, usrRepo, "student2", user.RoleStudent),
		parent:   newUser(t, usrRepo, "parent", user.RoleParent),
		parent2:  newUser(t, usrRepo, "parent2", user.RoleParent),
	}

	if _, err := usrRepo.CreateRelationship(context.Background(), user.Relationship{
		ParentID: f.parent.ID,
		ChildID:  f.student.ID,
	}); err != nil {
		t.Fatalf("CreateRelationship() failed: %v", err)
	}
	return f
}

type childResolver struct {
	repo *dummy.UserRepository
}

func (r childResolver) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	return r.repo.QueryChildIDs(ctx, parentID)
}

func newLesson(studentIDs ...string) lesson.NewLesson {
	start := time.Now().Add(24 * time.Hour)
	return lesson.NewLesson{
		LessonTypeID: "c2a4f3f0-0000-0000-0000-000000000001",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		LocationType: lesson.LocationInPerson,
		StudentIDs:   studentIDs,
	}
}

func createLesson(t *testing.T, svc *lesson.Service, actor user.User, studentIDs ...string) lesson.Lesson {
	t.Helper()
	les, err := svc.Create(context.Background(), actor, newLesson(studentIDs...))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return les
}

func TestService_Create(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID, f.student2.ID)

	// ownership is derived from the acting user, never from the payload
	if les.TeacherID != f.teacher.ID {
		t.Errorf("Create() teacherID = %s, want %s", les.TeacherID, f.teacher.ID)
	}
	if les.Status != lesson.StatusScheduled {
		t.Errorf("Create() status = %s, want %s", les.Status, lesson.StatusScheduled)
	}
	if len(les.Participants) != 2 {
		t.Fatalf("Create() roster size = %d, want 2", len(les.Participants))
	}
	for _, p := range les.Participants {
		if p.AttendanceStatus != lesson.AttendancePending {
			t.Errorf("Create() attendance = %s, want %s", p.AttendanceStatus, lesson.AttendancePending)
		}
	}

	// an admin owns the lessons it creates
	adminLes := createLesson(t, f.svc, f.admin, f.student.ID)
	if adminLes.TeacherID != f.admin.ID {
		t.Errorf("Create() teacherID = %s, want %s", adminLes.TeacherID, f.admin.ID)
	}

	// students and parents may not create lessons
	for _, actor := range []user.User{f.student, f.parent} {
		if _, err := f.svc.Create(ctx, actor, newLesson(f.student.ID)); errors.Cause(err) != lesson.ErrPermissionDenied {
			t.Errorf("Create() as %s: error = %v, want %v", actor.Role, err, lesson.ErrPermissionDenied)
		}
	}

	// an empty roster is invalid
	if _, err := f.svc.Create(ctx, f.teacher, newLesson()); err == nil {
		t.Error("Create() expected a validation error for an empty roster")
	}

	// end must be after start
	nl := newLesson(f.student.ID)
	nl.EndTime = nl.StartTime.Add(-time.Hour)
	if _, err := f.svc.Create(ctx, f.teacher, nl); err == nil {
		t.Error("Create() expected a validation error for end before start")
	}
}

func TestService_QueryVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	createLesson(t, f.svc, f.teacher, f.student.ID)
	createLesson(t, f.svc, f.teacher, f.student2.ID)
	createLesson(t, f.svc, f.teacher2, f.student2.ID)

	tests := []struct {
		name  string
		actor user.User
		want  int
	}{
		{name: "admin sees all", actor: f.admin, want: 3},
		{name: "teacher sees own", actor: f.teacher, want: 2},
		{name: "other teacher sees own", actor: f.teacher2, want: 1},
		{name: "student sees own participations", actor: f.student, want: 1},
		{name: "other student sees own participations", actor: f.student2, want: 2},
		{name: "parent sees children's", actor: f.parent, want: 1},
		{name: "parent without children sees none", actor: f.parent2, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lessons, err := f.svc.Query(ctx, tt.actor, nil)
			if err != nil {
				t.Fatalf("Query() failed: %v", err)
			}
			if len(lessons) != tt.want {
				t.Errorf("Query() returned %d lessons, want %d", len(lessons), tt.want)
			}
		})
	}
}

func TestService_QueryFilters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID)
	createLesson(t, f.svc, f.teacher, f.student2.ID)

	if _, err := f.svc.Update(ctx, f.teacher, les.ID, lesson.UpdateLesson{
		LessonTypeID: les.LessonTypeID,
		StartTime:    les.StartTime,
		EndTime:      les.EndTime,
		Status:       lesson.StatusCancelled,
		LocationType: les.LocationType,
	}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	lessons, err := f.svc.Query(ctx, f.teacher, &lesson.QueryFilter{Status: lesson.StatusCancelled})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(lessons) != 1 || lessons[0].ID != les.ID {
		t.Errorf("Query(status=cancelled) = %v, want [%s]", lessons, les.ID)
	}

	lessons, err = f.svc.Query(ctx, f.teacher, &lesson.QueryFilter{StartFrom: time.Now().Add(48 * time.Hour)})
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(lessons) != 0 {
		t.Errorf("Query(start_from future) returned %d lessons, want 0", len(lessons))
	}
}

func TestService_Get(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID)

	// owner and admin read it
	for _, actor := range []user.User{f.teacher, f.admin} {
		got, err := f.svc.Get(ctx, actor, les.ID)
		if err != nil {
			t.Fatalf("Get() as %s failed: %v", actor.Role, err)
		}
		if len(got.Participants) != 1 {
			t.Errorf("Get() roster size = %d, want 1", len(got.Participants))
		}
	}

	// a participant student and their parent read it
	for _, actor := range []user.User{f.student, f.parent} {
		if _, err := f.svc.Get(ctx, actor, les.ID); err != nil {
			t.Errorf("Get() as %s failed: %v", actor.Role, err)
		}
	}

	// a non-owner teacher gets not-found, matching the teacher-scoped base query
	if _, err := f.svc.Get(ctx, f.teacher2, les.ID); errors.Cause(err) != lesson.ErrNotFound {
		t.Errorf("Get() as non-owner teacher: error = %v, want %v", err, lesson.ErrNotFound)
	}

	// a non-participant student and a parent without a participating child are denied
	for _, actor := range []user.User{f.student2, f.parent2} {
		if _, err := f.svc.Get(ctx, actor, les.ID); errors.Cause(err) != lesson.ErrPermissionDenied {
			t.Errorf("Get() as %s: error = %v, want %v", actor.FirstName, err, lesson.ErrPermissionDenied)
		}
	}

	if _, err := f.svc.Get(ctx, f.admin, "00000000-0000-0000-0000-000000000000"); errors.Cause(err) != lesson.ErrNotFound {
		t.Errorf("Get() error = %v, want %v", err, lesson.ErrNotFound)
	}
}

func TestService_Update(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID)

	upd := lesson.UpdateLesson{
		LessonTypeID: les.LessonTypeID,
		StartTime:    les.StartTime,
		EndTime:      les.EndTime,
		Status:       lesson.StatusCompleted,
		LocationType: lesson.LocationVirtual,
	}

	// only the owner or an admin may modify
	if _, err := f.svc.Update(ctx, f.teacher2, les.ID, upd); errors.Cause(err) != lesson.ErrPermissionDenied {
		t.Errorf("Update() as non-owner: error = %v, want %v", err, lesson.ErrPermissionDenied)
	}

	got, err := f.svc.Update(ctx, f.teacher, les.ID, upd)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got.Status != lesson.StatusCompleted {
		t.Errorf("Update() status = %s, want %s", got.Status, lesson.StatusCompleted)
	}
	// a nil roster leaves participants untouched
	if len(got.Participants) != 1 || got.Participants[0].StudentID != f.student.ID {
		t.Errorf("Update() changed the roster: %v", got.Participants)
	}

	// any status may overwrite any other
	upd.Status = lesson.StatusScheduled
	if got, err = f.svc.Update(ctx, f.admin, les.ID, upd); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got.Status != lesson.StatusScheduled {
		t.Errorf("Update() status = %s, want %s", got.Status, lesson.StatusScheduled)
	}

	// a non-nil roster replaces it wholesale, resetting attendance
	if err = f.svc.UpdateAttendance(ctx, f.teacher, les.ID, lesson.UpdateAttendance{
		Records: []lesson.AttendanceRecord{{StudentID: f.student.ID, Status: lesson.AttendancePresent}},
	}); err != nil {
		t.Fatalf("UpdateAttendance() failed: %v", err)
	}
	upd.StudentIDs = []string{f.student.ID, f.student2.ID}
	if got, err = f.svc.Update(ctx, f.teacher, les.ID, upd); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("Update() roster size = %d, want 2", len(got.Participants))
	}
	for _, p := range got.Participants {
		if p.AttendanceStatus != lesson.AttendancePending {
			t.Errorf("Update() attendance = %s, want %s", p.AttendanceStatus, lesson.AttendancePending)
		}
	}

	// invalid status
	upd.Status = "postponed"
	if _, err = f.svc.Update(ctx, f.teacher, les.ID, upd); err == nil {
		t.Error("Update() expected a validation error for an unknown status")
	}
}

func TestService_UpdateAttendance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID)

	ua := lesson.UpdateAttendance{Records: []lesson.AttendanceRecord{
		{StudentID: f.student.ID, Status: lesson.AttendanceLate, Notes: "traffic"},
		{StudentID: f.student2.ID, Status: lesson.AttendancePresent}, // not on the roster
	}}

	// only the owner or an admin may record attendance
	if err := f.svc.UpdateAttendance(ctx, f.teacher2, les.ID, ua); errors.Cause(err) != lesson.ErrPermissionDenied {
		t.Errorf("UpdateAttendance() as non-owner: error = %v, want %v", err, lesson.ErrPermissionDenied)
	}

	// an unmatched record is skipped with a warning, not an error
	if err := f.svc.UpdateAttendance(ctx, f.teacher, les.ID, ua); err != nil {
		t.Fatalf("UpdateAttendance() failed: %v", err)
	}
	if len(f.logger.warnings) != 1 {
		t.Errorf("UpdateAttendance() logged %d warnings, want 1", len(f.logger.warnings))
	}

	got, err := f.svc.Get(ctx, f.teacher, les.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Participants[0].AttendanceStatus != lesson.AttendanceLate {
		t.Errorf("attendance = %s, want %s", got.Participants[0].AttendanceStatus, lesson.AttendanceLate)
	}
	if got.Participants[0].Notes != "traffic" {
		t.Errorf("notes = %s, want traffic", got.Participants[0].Notes)
	}

	// invalid attendance status
	bad := lesson.UpdateAttendance{Records: []lesson.AttendanceRecord{{StudentID: f.student.ID, Status: "vibing"}}}
	if err = f.svc.UpdateAttendance(ctx, f.teacher, les.ID, bad); err == nil {
		t.Error("UpdateAttendance() expected a validation error for an unknown status")
	}
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	les := createLesson(t, f.svc, f.teacher, f.student.ID)

	if err := f.svc.Delete(ctx, f.teacher2, les.ID); errors.Cause(err) != lesson.ErrPermissionDenied {
		t.Errorf("Delete() as non-owner: error = %v, want %v", err, lesson.ErrPermissionDenied)
	}

	if err := f.svc.Delete(ctx, f.teacher, les.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.admin, les.ID); errors.Cause(err) != lesson.ErrNotFound {
		t.Errorf("Get() after delete: error = %v, want %v", err, lesson.ErrNotFound)
	}

	// the student no longer sees it
	lessons, err := f.svc.Query(ctx, f.student, nil)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(lessons) != 0 {
		t.Errorf("Query() after delete returned %d lessons, want 0", len(lessons))
	}
}
