// Package repo is the store: typed CRUD and unpaginated list reads over the
// SQLite schema, with dual transaction/non-transaction method variants
// following the teacher's convention.
package repo

import (
	"database/sql"
	"errors"
	"strings"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict signals a unique-constraint violation the caller should treat
// as "someone else already did this" rather than a hard failure.
var ErrConflict = errors.New("conflict")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func fromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func fromNullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// isUniqueViolation reports whether err came from a UNIQUE constraint. The
// sqlite driver does not expose a typed error for this, so it is matched on
// the message text it is documented to return.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
