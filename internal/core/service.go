// Package core wires the record store, the rules engine and the observability
// hooks into the service that all entry points (CLI, importers, collaborators)
// talk to.
package core

import (
	"context"
	"strings"
	"time"

	"certcore/internal/infra/persistence/memory"
	"certcore/pkg/domain"
)

// Service coordinates record mutations and read projections on top of a
// persistent store.
type Service struct {
	store   PersistentStore
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithLogger overrides the default no-op logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder overrides the default no-op metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer overrides the default no-op tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service bound to the given store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService builds a service over an ephemeral store, wiring the
// default rules when engine is nil. Intended for tests.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store exposes the underlying persistent store.
func (s *Service) Store() PersistentStore { return s.store }

// observe wraps an operation with tracing, metrics and failure logging.
func (s *Service) observe(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, operation)
	start := time.Now()
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "error", err)
	}
	return err
}

// AddDoctor registers a doctor. When the CRM is already known the existing
// record is returned untouched instead of an error, so repeated imports stay
// idempotent.
func (s *Service) AddDoctor(ctx context.Context, input Doctor) (Doctor, Result, error) {
	var created Doctor
	var res Result
	err := s.observe(ctx, "add_doctor", func(ctx context.Context) error {
		input.CRM = strings.TrimSpace(input.CRM)
		input.Name = strings.TrimSpace(input.Name)
		input.Specialty = strings.TrimSpace(input.Specialty)
		input.Phone = strings.TrimSpace(input.Phone)
		input.Email = strings.TrimSpace(input.Email)
		if input.CRM == "" {
			return domain.ValidationError{Field: "crm", Reason: "must not be empty"}
		}
		if input.Name == "" {
			return domain.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if existing, ok := tx.FindDoctorByCRM(input.CRM); ok {
				created = existing
				return nil
			}
			var txErr error
			created, txErr = tx.CreateDoctor(input)
			return txErr
		})
		return err
	})
	return created, res, err
}

// UpdateDoctor applies mutator to the identified doctor.
func (s *Service) UpdateDoctor(ctx context.Context, id string, mutator func(*Doctor) error) (Doctor, Result, error) {
	var updated Doctor
	var res Result
	err := s.observe(ctx, "update_doctor", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateDoctor(id, mutator)
			return txErr
		})
		return err
	})
	return updated, res, err
}

// DeleteDoctor removes a doctor. Deletion is refused with a ConflictError
// while certificates still reference the record.
func (s *Service) DeleteDoctor(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.observe(ctx, "delete_doctor", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteDoctor(id)
		})
		return err
	})
	return res, err
}

// AddEmployee registers an employee. A known registration returns the
// existing record; empty department and role fields on the stored record are
// backfilled from the input.
func (s *Service) AddEmployee(ctx context.Context, input Employee) (Employee, Result, error) {
	var created Employee
	var res Result
	err := s.observe(ctx, "add_employee", func(ctx context.Context) error {
		input.Registration = strings.TrimSpace(input.Registration)
		input.Name = strings.TrimSpace(input.Name)
		input.Department = strings.TrimSpace(input.Department)
		input.Role = strings.TrimSpace(input.Role)
		if input.Registration == "" {
			return domain.ValidationError{Field: "registration", Reason: "must not be empty"}
		}
		if input.Name == "" {
			return domain.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			existing, ok := tx.FindEmployeeByRegistration(input.Registration)
			if !ok {
				var txErr error
				created, txErr = tx.CreateEmployee(input)
				return txErr
			}
			if (existing.Department == "" && input.Department != "") || (existing.Role == "" && input.Role != "") {
				var txErr error
				created, txErr = tx.UpdateEmployee(existing.ID, func(e *Employee) error {
					if e.Department == "" {
						e.Department = input.Department
					}
					if e.Role == "" {
						e.Role = input.Role
					}
					return nil
				})
				return txErr
			}
			created = existing
			return nil
		})
		return err
	})
	return created, res, err
}

// AddCertificate registers a certificate referencing existing records by ID.
// Classification happens at creation and is never revised afterwards.
func (s *Service) AddCertificate(ctx context.Context, input Certificate) (Certificate, Result, error) {
	var created Certificate
	var res Result
	err := s.observe(ctx, "add_certificate", func(ctx context.Context) error {
		if strings.TrimSpace(input.DoctorID) == "" {
			return domain.ValidationError{Field: "doctor_id", Reason: "must not be empty"}
		}
		if strings.TrimSpace(input.EmployeeID) == "" {
			return domain.ValidationError{Field: "employee_id", Reason: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateCertificate(input)
			return txErr
		})
		return err
	})
	return created, res, err
}

// AddCertificateByKeys registers a certificate resolving the parties by their
// business keys (doctor CRM and employee registration) inside the same
// transaction.
func (s *Service) AddCertificateByKeys(ctx context.Context, crm, registration string, input Certificate) (Certificate, Result, error) {
	var created Certificate
	var res Result
	err := s.observe(ctx, "add_certificate_by_keys", func(ctx context.Context) error {
		crm = strings.TrimSpace(crm)
		registration = strings.TrimSpace(registration)
		if crm == "" {
			return domain.ValidationError{Field: "crm", Reason: "must not be empty"}
		}
		if registration == "" {
			return domain.ValidationError{Field: "registration", Reason: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			doctor, ok := tx.FindDoctorByCRM(crm)
			if !ok {
				return domain.ReferenceError{Entity: EntityDoctor, ID: crm}
			}
			employee, ok := tx.FindEmployeeByRegistration(registration)
			if !ok {
				return domain.ReferenceError{Entity: EntityEmployee, ID: registration}
			}
			input.DoctorID = doctor.ID
			input.EmployeeID = employee.ID
			var txErr error
			created, txErr = tx.CreateCertificate(input)
			return txErr
		})
		return err
	})
	return created, res, err
}
