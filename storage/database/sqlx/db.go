package sqlxrepos

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/muziki/core"
)

const uniqueViolation = pq.ErrorCode("23505")

// trapErr maps driver errors to domain errors: "no rows" to the package's
// not-found sentinel and unique constraint violations to a ConflictError.
func trapErr(err error, msg string, notFound error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return core.NewConflictError(err)
	}
	return errors.Wrap(err, msg)
}

func orderBy(ordering []core.DBOrdering) string {
	if len(ordering) == 0 {
		return ""
	}
	clause := " ORDER BY "
	for i, ord := range ordering {
		if i > 0 {
			clause += ", "
		}
		clause += ord.String()
	}
	return clause
}
