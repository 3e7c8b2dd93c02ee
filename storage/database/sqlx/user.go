package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
)

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

type userRow struct {
	ID           string      `db:"user_id"`
	Email        string      `db:"email"`
	PasswordHash []byte      `db:"password_hash"`
	FirstName    string      `db:"first_name"`
	LastName     string      `db:"last_name"`
	Role         string      `db:"role"`
	PhoneNumber  null.String `db:"phone_number"`
	Status       string      `db:"status"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Role:         r.Role,
		PhoneNumber:  r.PhoneNumber.String,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLogin:    r.LastLogin.Time,
	}
}

const userColumns = `user_id, email, password_hash, first_name, last_name, role, phone_number, status, created_at, updated_at, last_login`

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE email = ?`
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		query += ` AND user_id NOT IN (?)`
		var err error
		if query, args, err = sqlx.In(query+`)`, email, ids); err != nil {
			return errors.Wrap(err, "expanding query")
		}
	} else {
		query += `)`
	}

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()

	query := `
		INSERT INTO users (user_id, email, password_hash, first_name, last_name, role, phone_number, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := repo.db.ExecContext(ctx, query,
		usr.ID, usr.Email, usr.PasswordHash, usr.FirstName, usr.LastName, usr.Role,
		null.NewString(usr.PhoneNumber, usr.PhoneNumber != ""), usr.Status, usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		return user.User{}, trapErr(err, "inserting user", user.ErrNotFound)
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var row userRow
	var err error

	if filter.ID != "" {
		if _, err = uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		err = repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, filter.ID)
	} else {
		err = repo.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email = $1`, filter.Email)
	}
	if err != nil {
		return user.User{}, trapErr(err, "finding user", user.ErrNotFound)
	}
	return row.toUser(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE true`
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			query += ` AND (first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?)`
			val := "%" + filter.Search + "%"
			args = append(args, val, val, val)
		}
		if filter.Role != "" {
			query += ` AND role = ?`
			args = append(args, filter.Role)
		}
		if filter.Status != "" {
			query += ` AND status = ?`
			args = append(args, filter.Status)
		}
		if !filter.CreatedFrom.IsZero() {
			query += ` AND created_at >= ?`
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			query += ` AND created_at <= ?`
			args = append(args, filter.CreatedTo.UTC())
		}
	}
	query += orderBy(ordering)

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	query := `UPDATE users SET updated_at = ?`
	args := []interface{}{usr.UpdatedAt.UTC()}

	set := func(col string, val interface{}) {
		query += `, ` + col + ` = ?`
		args = append(args, val)
	}
	if usr.FirstName != "" {
		set("first_name", usr.FirstName)
	}
	if usr.LastName != "" {
		set("last_name", usr.LastName)
	}
	if usr.Email != "" {
		set("email", usr.Email)
	}
	if usr.Status != "" {
		set("status", usr.Status)
	}
	if usr.PhoneNumber != "" {
		set("phone_number", usr.PhoneNumber)
	}
	if len(usr.PasswordHash) > 0 {
		set("password_hash", usr.PasswordHash)
	}
	if !usr.LastLogin.IsZero() {
		set("last_login", usr.LastLogin.UTC())
	}
	query += ` WHERE user_id = ?`
	args = append(args, usr.ID)

	res, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...)
	if err != nil {
		return user.User{}, trapErr(err, "updating user", user.ErrNotFound)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUser(ctx, user.GetFilter{ID: usr.ID})
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM users WHERE user_id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "expanding query")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (repo userRepository) QueryChildIDs(ctx context.Context, parentID string) ([]string, error) {
	ids := make([]string, 0)
	err := repo.db.SelectContext(ctx, &ids,
		`SELECT child_user_id FROM parent_child_relationships WHERE parent_user_id = $1`, parentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying child IDs")
	}
	return ids, nil
}

func (repo userRepository) CreateRelationship(ctx context.Context, rel user.Relationship) (user.Relationship, error) {
	query := `
		INSERT INTO parent_child_relationships (parent_user_id, child_user_id, relationship_type, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := repo.db.ExecContext(ctx, query,
		rel.ParentID, rel.ChildID, null.NewString(rel.RelationshipType, rel.RelationshipType != ""), rel.CreatedAt)
	if err != nil {
		return user.Relationship{}, trapErr(err, "inserting relationship", user.ErrNotFound)
	}
	return rel, nil
}
