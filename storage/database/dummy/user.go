// Package dummy provides in-memory repository implementations for tests.
package dummy

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
)

type UserRepository struct {
	mu    sync.RWMutex
	users map[string]user.User
	rels  []user.Relationship
}

var _ user.Repository = (*UserRepository)(nil) // interface compliance check

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]user.User)}
}

func (repo *UserRepository) CheckEmailUniqueness(_ context.Context, email string, excludedUsers ...user.User) error {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	excluded := make(map[string]struct{}, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = struct{}{}
	}
	for _, u := range repo.users {
		if _, skip := excluded[u.ID]; skip {
			continue
		}
		if strings.EqualFold(u.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *UserRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	usr.ID = uuid.New().String()
	repo.users[usr.ID] = usr
	return usr, nil
}

func (repo *UserRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.users[filter.ID]; ok {
			return usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.users {
		if strings.EqualFold(usr.Email, filter.Email) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *UserRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	users := make([]user.User, 0, len(repo.users))
	for _, usr := range repo.users {
		if filter != nil {
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				hay := strings.ToLower(usr.FirstName + " " + usr.LastName + " " + usr.Email)
				if !strings.Contains(hay, search) {
					continue
				}
			}
			if filter.Role != "" && usr.Role != filter.Role {
				continue
			}
			if filter.Status != "" && usr.Status != filter.Status {
				continue
			}
			if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
				continue
			}
		}
		users = append(users, usr)
	}

	// only created_at ordering is supported here
	asc := false
	for _, ord := range ordering {
		if ord.Field == "created_at" {
			asc = ord.Ascending
			break
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if asc {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (repo *UserRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	orig, ok := repo.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.FirstName != "" {
		orig.FirstName = usr.FirstName
	}
	if usr.LastName != "" {
		orig.LastName = usr.LastName
	}
	if usr.Email != "" {
		orig.Email = usr.Email
	}
	if usr.Status != "" {
		orig.Status = usr.Status
	}
	if usr.PhoneNumber != "" {
		orig.PhoneNumber = usr.PhoneNumber
	}
	if len(usr.PasswordHash) > 0 {
		orig.PasswordHash = usr.PasswordHash
	}
	if !usr.LastLogin.IsZero() {
		orig.LastLogin = usr.LastLogin
	}
	orig.UpdatedAt = usr.UpdatedAt
	repo.users[orig.ID] = orig
	return orig, nil
}

func (repo *UserRepository) DeleteUsersByID(_ context.Context, ids ...string) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, id := range ids {
		delete(repo.users, id)
	}
	return nil
}

func (repo *UserRepository) QueryChildIDs(_ context.Context, parentID string) ([]string, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	ids := make([]string, 0)
	for _, rel := range repo.rels {
		if rel.ParentID == parentID {
			ids = append(ids, rel.ChildID)
		}
	}
	return ids, nil
}

func (repo *UserRepository) CreateRelationship(_ context.Context, rel user.Relationship) (user.Relationship, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.rels {
		if existing.ParentID == rel.ParentID && existing.ChildID == rel.ChildID {
			return user.Relationship{}, core.NewConflictError(nil)
		}
	}
	repo.rels = append(repo.rels, rel)
	return rel, nil
}
