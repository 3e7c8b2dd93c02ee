package dummy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/lesson"
)

type LessonRepository struct {
	mu           sync.RWMutex
	lessons      map[string]lesson.Lesson
	participants map[string][]lesson.Participant // keyed by lesson ID
}

var _ lesson.Repository = (*LessonRepository)(nil) // interface compliance check

func NewLessonRepository() *LessonRepository {
	return &LessonRepository{
		lessons:      make(map[string]lesson.Lesson),
		participants: make(map[string][]lesson.Participant),
	}
}

func (repo *LessonRepository) CreateLesson(_ context.Context, les lesson.Lesson) (lesson.Lesson, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	les.ID = uuid.New().String()
	for i := range les.Participants {
		les.Participants[i].LessonID = les.ID
	}
	repo.participants[les.ID] = append([]lesson.Participant(nil), les.Participants...)

	stored := les
	stored.Participants = nil
	repo.lessons[les.ID] = stored
	return les, nil
}

func (repo *LessonRepository) GetLesson(_ context.Context, id string) (lesson.Lesson, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if les, ok := repo.lessons[id]; ok {
		return les, nil
	}
	return lesson.Lesson{}, lesson.ErrNotFound
}

func (repo *LessonRepository) QueryLessons(_ context.Context, filter *lesson.QueryFilter, _ []core.DBOrdering) ([]lesson.Lesson, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	lessons := make([]lesson.Lesson, 0, len(repo.lessons))
	for _, les := range repo.lessons {
		if filter != nil {
			if filter.TeacherID != "" && les.TeacherID != filter.TeacherID {
				continue
			}
			if len(filter.StudentIn) > 0 && !repo.hasAnyParticipant(les.ID, filter.StudentIn) {
				continue
			}
			if !filter.StartFrom.IsZero() && les.StartTime.Before(filter.StartFrom) {
				continue
			}
			if !filter.EndTo.IsZero() && les.EndTime.After(filter.EndTo) {
				continue
			}
			if filter.Status != "" && les.Status != filter.Status {
				continue
			}
		}
		lessons = append(lessons, les)
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].StartTime.Before(lessons[j].StartTime) })
	return lessons, nil
}

func (repo *LessonRepository) UpdateLesson(_ context.Context, les lesson.Lesson) (lesson.Lesson, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.lessons[les.ID]; !ok {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	stored := les
	stored.Participants = nil
	repo.lessons[les.ID] = stored
	return les, nil
}

func (repo *LessonRepository) DeleteLesson(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.lessons, id)
	delete(repo.participants, id)
	return nil
}

func (repo *LessonRepository) QueryParticipants(_ context.Context, lessonIDs ...string) ([]lesson.Participant, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	participants := make([]lesson.Participant, 0)
	for _, id := range lessonIDs {
		participants = append(participants, repo.participants[id]...)
	}
	return participants, nil
}

func (repo *LessonRepository) ReplaceParticipants(_ context.Context, lessonID string, participants []lesson.Participant) ([]lesson.Participant, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.lessons[lessonID]; !ok {
		return nil, lesson.ErrNotFound
	}
	for i := range participants {
		participants[i].LessonID = lessonID
	}
	repo.participants[lessonID] = append([]lesson.Participant(nil), participants...)
	return participants, nil
}

func (repo *LessonRepository) HasParticipant(_ context.Context, lessonID string, studentIDs []string) (bool, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	return repo.hasAnyParticipant(lessonID, studentIDs), nil
}

func (repo *LessonRepository) UpdateAttendance(_ context.Context, lessonID string, rec lesson.AttendanceRecord) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	participants := repo.participants[lessonID]
	for i, p := range participants {
		if p.StudentID == rec.StudentID {
			participants[i].AttendanceStatus = rec.Status
			participants[i].Notes = rec.Notes
			participants[i].UpdatedAt = time.Now().UTC()
			return 1, nil
		}
	}
	return 0, nil
}

// callers must hold the lock
func (repo *LessonRepository) hasAnyParticipant(lessonID string, studentIDs []string) bool {
	for _, p := range repo.participants[lessonID] {
		for _, sid := range studentIDs {
			if p.StudentID == sid {
				return true
			}
		}
	}
	return false
}
