package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/user"
)

// linkChild records a parent → student relationship. The pair is unique.
func (cli *commandLine) linkChild(parentEmail, childEmail, relType string) error {
	ctx := context.Background()

	parent, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(parentEmail, true /* lower */)})
	if err != nil {
		return errors.Wrap(err, "finding parent")
	}
	if !parent.IsParent() {
		return errors.New("user is not a parent: " + parentEmail)
	}

	child, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(childEmail, true /* lower */)})
	if err != nil {
		return errors.Wrap(err, "finding child")
	}
	if !child.IsStudent() {
		return errors.New("user is not a student: " + childEmail)
	}

	_, err = cli.usrRepo.CreateRelationship(ctx, user.Relationship{
		ParentID:         parent.ID,
		ChildID:          child.ID,
		RelationshipType: relType,
		CreatedAt:        time.Now().UTC(),
	})
	return err
}
