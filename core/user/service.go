package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/muziki/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error

		// QueryChildIDs returns the IDs of students directly linked to the
		// given parent; an empty slice when there are none.
		QueryChildIDs(ctx context.Context, parentID string) ([]string, error)
		CreateRelationship(ctx context.Context, rel Relationship) (Relationship, error)
	}

	// GetFilter selects a single user by ID or email.
	GetFilter struct {
		ID    string
		Email string
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger
	}
)

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, logger: logger}
}

func (svc *Service) CheckEmailUniqueness(email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(context.Background(), email, exclUsers...); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		FirstName:   nu.FirstName,
		LastName:    nu.LastName,
		Email:       nu.Email,
		Role:        nu.Role,
		PhoneNumber: nu.PhoneNumber,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}

	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.FirstName + " " + usr.LastName, Address: usr.Email}},
		Subject: "Welcome to " + core.Conf.AppName,
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour %s account is ready. Log in at %s to get started.",
			usr.FirstName, core.Conf.AppName, core.Conf.FrontendBaseURL,
		),
	})
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if filter != nil {
		filter.Clean()
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}} // newest first
	}
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr := User{
		ID:          id,
		FirstName:   uu.FirstName,
		LastName:    uu.LastName,
		Email:       uu.Email,
		Status:      uu.Status,
		PhoneNumber: uu.PhoneNumber,
		UpdatedAt:   time.Now().UTC(),
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

// ChildIDs resolves a parent to the set of student IDs it may act on behalf
// of. Resolution is single-hop: only directly linked children are returned,
// and a parent with no links resolves to an empty set, not an error.
func (svc *Service) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	ids, err := svc.repo.QueryChildIDs(ctx, parentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying child IDs")
	}
	return ids, nil
}

// LinkChild records a parent → child relationship. The pair is unique;
// linking twice yields a ConflictError from the store.
func (svc *Service) LinkChild(ctx context.Context, parentID, childID, relType string) (Relationship, error) {
	parent, err := svc.GetByID(ctx, parentID)
	if err != nil {
		return Relationship{}, errors.Wrap(err, "finding parent")
	}
	if !parent.IsParent() {
		return Relationship{}, core.NewValidationError(errors.New("user is not a parent"))
	}
	child, err := svc.GetByID(ctx, childID)
	if err != nil {
		return Relationship{}, errors.Wrap(err, "finding child")
	}
	if !child.IsStudent() {
		return Relationship{}, core.NewValidationError(errors.New("user is not a student"))
	}

	rel := Relationship{
		ParentID:         parent.ID,
		ChildID:          child.ID,
		RelationshipType: relType,
		CreatedAt:        time.Now().UTC(),
	}
	return svc.repo.CreateRelationship(ctx, rel)
}

// ResetPassword emails a password reset link to the given address.
// An unknown email is not an error; we do not leak account existence.
func (svc *Service) ResetPassword(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding user by email")
	}

	token, err := MakeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making reset token")
	}
	url := fmt.Sprintf("%s/password-reset?uid=%s&token=%s", core.Conf.FrontendBaseURL, EncodeUID(usr), token)

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.FirstName + " " + usr.LastName, Address: usr.Email}},
		Subject: "Password reset",
		Body:    fmt.Sprintf("Hi %s,\n\nFollow this link to reset your password:\n%s", usr.FirstName, url),
	})
	return nil
}

// ConfirmPasswordReset verifies the reset token and sets the new password.
func (svc *Service) ConfirmPasswordReset(ctx context.Context, rp ResetUserPassword) (User, error) {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return User{}, core.NewValidationError(errors.New("invalid uid"))
	}
	usr, err := svc.GetByID(ctx, uid)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return User{}, core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}
