package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres SQLSTATE classes the engine reacts to.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateUniqueViolation      = "23505"
	sqlstateForeignKeyViolation  = "23503"
	sqlstateCheckViolation       = "23514"
)

// IsSerializationFailure reports whether the error is a transient conflict
// from the store's concurrency control. Operations hitting this should be
// retried as a whole.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlstateSerializationFailure || string(pqErr.Code) == sqlstateDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports a unique-constraint conflict.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlstateUniqueViolation
	}
	return false
}

// IsConstraintViolation reports referential-integrity or check failures.
// These are fatal for the operation and surfaced unchanged.
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case sqlstateForeignKeyViolation, sqlstateCheckViolation:
			return true
		}
	}
	return false
}
