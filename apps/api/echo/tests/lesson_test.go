package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/muziki/core/lesson"
	"github.com/trezcool/muziki/core/user"
)

type lessonFixture struct {
	*fixture

	admin    user.User
	teacher  user.User
	teacher2 user.User
	student  user.User
	student2 user.User
	parent   user.User
}

func lessonSetup(t *testing.T) *lessonFixture {
	t.Helper()
	f := &lessonFixture{
		fixture: setup(t),
	}
	f.admin = createUser(t, f.usrRepo, "Admin", "admin@test.cd", user.RoleAdmin, "", true)
	f.teacher = createUser(t, f.usrRepo, "Teacher", "teacher@test.cd", user.RoleTeacher, "", true)
	f.teacher2 = createUser(t, f.usrRepo, "Teacher2", "teacher2@test.cd", user.RoleTeacher, "", true)
	f.student = createUser(t, f.usrRepo, "Hero", "hero@test.cd", user.RoleStudent, "", true)
	f.student2 = createUser(t, f.usrRepo, "Solo", "solo@test.cd", user.RoleStudent, "", true)
	f.parent = createUser(t, f.usrRepo, "Parent", "parent@test.cd", user.RoleParent, "", true)

	if _, err := f.usrSvc.LinkChild(context.Background(), f.parent.ID, f.student.ID, "mother"); err != nil {
		t.Fatalf("LinkChild() failed: %v", err)
	}
	return f
}

func newLessonBody(t *testing.T, studentIDs ...string) []byte {
	t.Helper()
	start := time.Now().Add(24 * time.Hour).UTC()
	return marchallObj(t, lesson.NewLesson{
		LessonTypeID: "c2a4f3f0-0000-0000-0000-000000000001",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		LocationType: lesson.LocationInPerson,
		StudentIDs:   studentIDs,
	})
}

func seedLesson(t *testing.T, f *lessonFixture, teacher user.User, studentIDs ...string) lesson.Lesson {
	t.Helper()
	start := time.Now().Add(24 * time.Hour).UTC()
	les, err := f.lessonSvc.Create(context.Background(), teacher, lesson.NewLesson{
		LessonTypeID: "c2a4f3f0-0000-0000-0000-000000000001",
		StartTime:    start,
		EndTime:      start.Add(30 * time.Minute),
		LocationType: lesson.LocationInPerson,
		StudentIDs:   studentIDs,
	})
	if err != nil {
		t.Fatalf("lessonSvc.Create() failed: %v", err)
	}
	return les
}

func Test_lessonApi_create(t *testing.T) {
	f := lessonSetup(t)

	t.Run("Auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/lessons", newLessonBody(t, f.student.ID))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("Students cannot schedule", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/lessons", getToken(t, f.student), newLessonBody(t, f.student.ID))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Teacher schedules", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/lessons", getToken(t, f.teacher), newLessonBody(t, f.student.ID))
		f.app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
		}
		var les lesson.Lesson
		if err := json.Unmarshal(rec.Body.Bytes(), &les); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if les.TeacherID != f.teacher.ID {
			t.Errorf("teacher_id = %s, want %s", les.TeacherID, f.teacher.ID)
		}
		if les.Status != lesson.StatusScheduled {
			t.Errorf("status = %s, want %s", les.Status, lesson.StatusScheduled)
		}
		if len(les.Participants) != 1 || les.Participants[0].AttendanceStatus != lesson.AttendancePending {
			t.Errorf("unexpected roster: %v", les.Participants)
		}
	})

	t.Run("Empty roster rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/lessons", getToken(t, f.teacher), newLessonBody(t))
		f.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
		}
	})
}

func Test_lessonApi_query(t *testing.T) {
	f := lessonSetup(t)

	seedLesson(t, f, f.teacher, f.student.ID)
	seedLesson(t, f, f.teacher2, f.student2.ID)

	tests := []struct {
		name  string
		actor user.User
		want  int
	}{
		{name: "admin sees all", actor: f.admin, want: 2},
		{name: "teacher sees own", actor: f.teacher, want: 1},
		{name: "student sees scheduled", actor: f.student, want: 1},
		{name: "other student sees scheduled", actor: f.student2, want: 1},
		{name: "parent sees children's", actor: f.parent, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/lessons", getToken(t, tt.actor))
			f.app.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
			}
			var lessons []lesson.Lesson
			if err := json.Unmarshal(rec.Body.Bytes(), &lessons); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(lessons) != tt.want {
				t.Errorf("got %d lessons, want %d", len(lessons), tt.want)
			}
		})
	}
}

func Test_lessonApi_retrieve(t *testing.T) {
	f := lessonSetup(t)

	les := seedLesson(t, f, f.teacher, f.student.ID)
	path := "/v1/lessons/" + les.ID

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Owner reads", token: getToken(t, f.teacher), wantCode: http.StatusOK},
		{name: "Admin reads", token: getToken(t, f.admin), wantCode: http.StatusOK},
		{name: "Participant reads", token: getToken(t, f.student), wantCode: http.StatusOK},
		{name: "Parent reads", token: getToken(t, f.parent), wantCode: http.StatusOK},
		{
			name: "Hidden from other teachers", token: getToken(t, f.teacher2),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "lesson not found"}),
		},
		{
			name: "Denied to non-participants", token: getToken(t, f.student2),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, path, tt.token)
			f.app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
			}
		})
	}
}

func Test_lessonApi_update(t *testing.T) {
	f := lessonSetup(t)

	les := seedLesson(t, f, f.teacher, f.student.ID)
	path := "/v1/lessons/" + les.ID

	body := marchallObj(t, lesson.UpdateLesson{
		LessonTypeID: les.LessonTypeID,
		StartTime:    les.StartTime,
		EndTime:      les.EndTime,
		Status:       lesson.StatusCancelled,
		LocationType: les.LocationType,
	})

	t.Run("Owner only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, f.teacher2), body)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Owner cancels", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, f.teacher), body)
		f.app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var got lesson.Lesson
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if got.Status != lesson.StatusCancelled {
			t.Errorf("status = %s, want %s", got.Status, lesson.StatusCancelled)
		}
	})
}

func Test_lessonApi_updateAttendance(t *testing.T) {
	f := lessonSetup(t)

	les := seedLesson(t, f, f.teacher, f.student.ID)
	path := "/v1/lessons/" + les.ID + "/attendance"

	body := marchallObj(t, lesson.UpdateAttendance{
		Records: []lesson.AttendanceRecord{
			{StudentID: f.student.ID, Status: lesson.AttendanceLate, Notes: "traffic"},
		},
	})

	t.Run("Owner only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, f.teacher2), body)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Owner marks attendance", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, f.teacher), body)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`{"success": "Attendance updated."}`)}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/lessons/"+les.ID, getToken(t, f.teacher))
		f.app.ServeHTTP(rec, req)
		var got lesson.Lesson
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if len(got.Participants) != 1 || got.Participants[0].AttendanceStatus != lesson.AttendanceLate {
			t.Errorf("unexpected roster: %v", got.Participants)
		}
	})

	t.Run("Unknown status rejected", func(t *testing.T) {
		bad := marchallObj(t, lesson.UpdateAttendance{
			Records: []lesson.AttendanceRecord{{StudentID: f.student.ID, Status: "vibing"}},
		})
		req, rec := newAuthRequest(http.MethodPut, path, getToken(t, f.teacher), bad)
		f.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusBadRequest, rec.Body.String())
		}
	})
}

func Test_lessonApi_destroy(t *testing.T) {
	f := lessonSetup(t)

	les := seedLesson(t, f, f.teacher, f.student.ID)
	path := "/v1/lessons/" + les.ID

	t.Run("Owner only", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, path, getToken(t, f.teacher2))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}, rec)
	})

	t.Run("Owner deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, path, getToken(t, f.teacher))
		f.app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
		}

		req, rec = newAuthRequest(http.MethodGet, path, getToken(t, f.admin))
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "lesson not found"})}, rec)
	})
}
