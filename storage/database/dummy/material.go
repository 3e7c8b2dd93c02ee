package dummy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/material"
)

type MaterialRepository struct {
	mu          sync.RWMutex
	materials   map[string]material.Material
	assignments map[string][]material.Assignment // keyed by material ID
}

var _ material.Repository = (*MaterialRepository)(nil) // interface compliance check

func NewMaterialRepository() *MaterialRepository {
	return &MaterialRepository{
		materials:   make(map[string]material.Material),
		assignments: make(map[string][]material.Assignment),
	}
}

func (repo *MaterialRepository) CreateMaterial(_ context.Context, mat material.Material) (material.Material, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	mat.ID = uuid.New().String()
	for i := range mat.Assignments {
		mat.Assignments[i].MaterialID = mat.ID
	}
	repo.assignments[mat.ID] = append([]material.Assignment(nil), mat.Assignments...)

	stored := mat
	stored.Assignments = nil
	repo.materials[mat.ID] = stored
	return mat, nil
}

func (repo *MaterialRepository) GetMaterial(_ context.Context, id string) (material.Material, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if mat, ok := repo.materials[id]; ok {
		return mat, nil
	}
	return material.Material{}, material.ErrNotFound
}

func (repo *MaterialRepository) QueryMaterials(_ context.Context, filter *material.QueryFilter, _ []core.DBOrdering) ([]material.Material, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	materials := make([]material.Material, 0, len(repo.materials))
	for _, mat := range repo.materials {
		if filter != nil {
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				hay := strings.ToLower(mat.Title + " " + mat.Description)
				if !strings.Contains(hay, search) {
					continue
				}
			}
			if filter.CreatedBy != "" && mat.CreatedBy != filter.CreatedBy {
				continue
			}
			if len(filter.StudentIn) > 0 && !repo.hasAnyAssignment(mat.ID, filter.StudentIn) {
				continue
			}
		}
		materials = append(materials, mat)
	}
	sort.Slice(materials, func(i, j int) bool { return materials[i].CreatedAt.After(materials[j].CreatedAt) })
	return materials, nil
}

func (repo *MaterialRepository) UpdateMaterial(_ context.Context, mat material.Material) (material.Material, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.materials[mat.ID]; !ok {
		return material.Material{}, material.ErrNotFound
	}
	stored := mat
	stored.Assignments = nil
	repo.materials[mat.ID] = stored
	return mat, nil
}

func (repo *MaterialRepository) DeleteMaterial(_ context.Context, id string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	delete(repo.materials, id)
	delete(repo.assignments, id)
	return nil
}

func (repo *MaterialRepository) QueryAssignments(_ context.Context, materialIDs ...string) ([]material.Assignment, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	assignments := make([]material.Assignment, 0)
	for _, id := range materialIDs {
		assignments = append(assignments, repo.assignments[id]...)
	}
	return assignments, nil
}

func (repo *MaterialRepository) ReplaceAssignments(_ context.Context, materialID string, assignments []material.Assignment) ([]material.Assignment, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.materials[materialID]; !ok {
		return nil, material.ErrNotFound
	}
	for i := range assignments {
		assignments[i].MaterialID = materialID
	}
	repo.assignments[materialID] = append([]material.Assignment(nil), assignments...)
	return assignments, nil
}

func (repo *MaterialRepository) HasAssignment(_ context.Context, materialID string, studentIDs []string) (bool, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	return repo.hasAnyAssignment(materialID, studentIDs), nil
}

func (repo *MaterialRepository) UpdateCompletion(_ context.Context, materialID, studentID, status string, feedback null.String) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	assignments := repo.assignments[materialID]
	for i, a := range assignments {
		if a.StudentID == studentID {
			assignments[i].CompletionStatus = status
			if feedback.Valid {
				assignments[i].Feedback = feedback.String
			}
			assignments[i].UpdatedAt = time.Now().UTC()
			return 1, nil
		}
	}
	return 0, nil
}

// callers must hold the lock
func (repo *MaterialRepository) hasAnyAssignment(materialID string, studentIDs []string) bool {
	for _, a := range repo.assignments[materialID] {
		for _, sid := range studentIDs {
			if a.StudentID == sid {
				return true
			}
		}
	}
	return false
}
