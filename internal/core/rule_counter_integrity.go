package core

import (
	"context"
	"fmt"

	"certcore/pkg/domain"
)

// NewCounterIntegrityRule returns the in-transaction rule enforcing that the
// denormalized attendance counters on doctors and employees match the number
// of certificates referencing them.
func NewCounterIntegrityRule() domain.Rule {
	return counterIntegrityRule{}
}

type counterIntegrityRule struct{}

func (counterIntegrityRule) Name() string { return "counter_integrity" }

func (counterIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	byDoctor := make(map[string]int)
	byEmployee := make(map[string]int)
	for _, cert := range view.ListCertificates() {
		byDoctor[cert.DoctorID]++
		byEmployee[cert.EmployeeID]++
	}

	res := domain.Result{}
	for _, doctor := range view.ListDoctors() {
		if count := byDoctor[doctor.ID]; doctor.TotalCertificates != count {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "counter_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("doctor %s (%s) certificate counter %d does not match %d referencing certificates", doctor.Name, doctor.ID, doctor.TotalCertificates, count),
				Entity:   domain.EntityDoctor,
				EntityID: doctor.ID,
			})
		}
	}
	for _, employee := range view.ListEmployees() {
		if count := byEmployee[employee.ID]; employee.TotalCertificates != count {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "counter_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("employee %s (%s) certificate counter %d does not match %d referencing certificates", employee.Name, employee.ID, employee.TotalCertificates, count),
				Entity:   domain.EntityEmployee,
				EntityID: employee.ID,
			})
		}
	}
	return res, nil
}
