package domain

import "fmt"

// ValidationError reports a missing or malformed required field on insert.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s is required", e.Field)
}

// NotFoundError reports a lookup, edit, or delete targeting an identifier
// absent from the relevant collection.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ReferenceError reports certificate creation naming a nonexistent doctor or
// employee identifier. The store rejects the insert; dangling references are
// never written.
type ReferenceError struct {
	Entity EntityType
	ID     string
}

func (e ReferenceError) Error() string {
	return fmt.Sprintf("certificate references unknown %s %s", e.Entity, e.ID)
}

// ConflictError reports an attempt to remove a record that is still
// referenced by at least one certificate.
type ConflictError struct {
	Entity     EntityType
	ID         string
	References int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s has %d registered certificates and cannot be deleted", e.Entity, e.ID, e.References)
}

// PersistenceError reports a durable-write failure. The triggering operation
// fails and the in-memory state is rolled back to the last durable snapshot.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }
