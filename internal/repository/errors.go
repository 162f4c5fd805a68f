// Package repository provides access to zones, gates and spots.  Two
// backends implement the same interfaces: MySQL for deployments and an
// in-memory store for tests and single-process runs.  Both translate
// storage failures into the apperr taxonomy so that callers never inspect
// driver errors directly.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique index violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// translate maps driver errors onto the shared error types.  sql.ErrNoRows
// becomes NotFoundError, duplicate keys become ConflictError and anything
// else is reported as a registry connection failure.
func translate(err error, kind string, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(kind, id)
	case isDuplicateKey(err):
		return apperr.Conflict(id, "duplicate "+kind)
	}
	return apperr.Unavailable("registry", fmt.Errorf("%s %d: %w", kind, id, err))
}
