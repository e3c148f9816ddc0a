package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Certificates have no update or delete:
// creation is their only lifecycle event.
type Transaction interface {
	Snapshot() TransactionView
	CreateDoctor(Doctor) (Doctor, error)
	UpdateDoctor(id string, mutator func(*Doctor) error) (Doctor, error)
	DeleteDoctor(id string) error
	CreateEmployee(Employee) (Employee, error)
	UpdateEmployee(id string, mutator func(*Employee) error) (Employee, error)
	CreateCertificate(Certificate) (Certificate, error)
	FindDoctor(id string) (Doctor, bool)
	FindEmployee(id string) (Employee, bool)
	FindDoctorByCRM(crm string) (Doctor, bool)
	FindEmployeeByRegistration(registration string) (Employee, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// read projections. List results are ordered by insertion sequence.
type TransactionView interface {
	RuleView
	FindDoctorByCRM(crm string) (Doctor, bool)
	FindEmployeeByRegistration(registration string) (Employee, bool)
}

// PersistentStore is a minimal abstraction over durable backends. Every
// committed transaction is followed by a full snapshot write; implementations
// must leave the in-memory state on the last durable snapshot when that write
// fails.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetDoctor(id string) (Doctor, bool)
	GetEmployee(id string) (Employee, bool)
	GetCertificate(id string) (Certificate, bool)
	ListDoctors() []Doctor
	ListEmployees() []Employee
	ListCertificates() []Certificate
	LastUpdate() time.Time
}
