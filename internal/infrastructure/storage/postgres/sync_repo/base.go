// Package sync_repo provides PostgreSQL implementations for the instance,
// ledger, webhook and task repositories.
package sync_repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"storesync/internal/core/apperror"
)

// builder returns a squirrel builder with PostgreSQL placeholder format.
func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// PostgreSQL error codes the repositories translate into AppErrors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translateError maps constraint violations to AppErrors. Unique violations
// become CodeDuplicate: the ledger and delivery tables use their constraints
// as concurrency control, and callers branch on the code.
func translateError(err error, table string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return apperror.NewDuplicate(table, pgErr.ConstraintName, "").
			WithCause(err)
	case pgForeignKeyViolation:
		return apperror.NewConflict(fmt.Sprintf("%s references a missing row", table)).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	}
	return err
}

// filterColumns keeps only the keys present in cols, protecting inserts from
// struct fields that have no backing column.
func filterColumns(data map[string]any, cols []string) map[string]any {
	out := make(map[string]any, len(cols))
	for _, col := range cols {
		if val, ok := data[col]; ok {
			out[col] = val
		}
	}
	return out
}

// joinColumns renders a column list for RETURNING clauses.
func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
