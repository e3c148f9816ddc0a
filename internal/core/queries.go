package core

import (
	"context"
	"sort"
	"time"
)

// Stats aggregates the whole record base. Per-party ratios are zero when the
// corresponding denominator is zero.
type Stats struct {
	TotalDoctors            int     `json:"total_doctors"`
	TotalEmployees          int     `json:"total_employees"`
	TotalCertificates       int     `json:"total_certificates"`
	TotalAttendances        int     `json:"total_attendances"`
	TotalDaysOff            int     `json:"total_days_off"`
	RiskCertificates        int     `json:"risk_certificates"`
	RiskRatio               float64 `json:"risk_ratio"`
	CertificatesPerDoctor   float64 `json:"certificates_per_doctor"`
	CertificatesPerEmployee float64 `json:"certificates_per_employee"`
}

// RiskCase joins a risk-flagged certificate with the people involved.
type RiskCase struct {
	Certificate  Certificate `json:"certificate"`
	EmployeeName string      `json:"employee_name"`
	Department   string      `json:"department"`
	DoctorName   string      `json:"doctor_name"`
}

// CategoryCount is one bucket of a grouped projection.
type CategoryCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// UnassignedDepartment labels employees without a department in grouped
// projections.
const UnassignedDepartment = "(sem departamento)"

// Doctors lists all doctors in insertion order.
func (s *Service) Doctors() []Doctor { return s.store.ListDoctors() }

// Employees lists all employees in insertion order.
func (s *Service) Employees() []Employee { return s.store.ListEmployees() }

// Certificates lists all certificates in insertion order.
func (s *Service) Certificates() []Certificate { return s.store.ListCertificates() }

// LastUpdate reports when the record base last changed.
func (s *Service) LastUpdate() time.Time { return s.store.LastUpdate() }

// DoctorByCRM resolves a doctor by its business key.
func (s *Service) DoctorByCRM(ctx context.Context, crm string) (Doctor, bool) {
	var doctor Doctor
	var ok bool
	_ = s.store.View(ctx, func(view TransactionView) error {
		doctor, ok = view.FindDoctorByCRM(crm)
		return nil
	})
	return doctor, ok
}

// EmployeeByRegistration resolves an employee by its business key.
func (s *Service) EmployeeByRegistration(ctx context.Context, registration string) (Employee, bool) {
	var employee Employee
	var ok bool
	_ = s.store.View(ctx, func(view TransactionView) error {
		employee, ok = view.FindEmployeeByRegistration(registration)
		return nil
	})
	return employee, ok
}

// TopDoctorsByCertificates returns doctors ordered by certificate count
// descending; ties keep insertion order. A non-positive limit returns all.
func (s *Service) TopDoctorsByCertificates(limit int) []Doctor {
	doctors := s.store.ListDoctors()
	sort.SliceStable(doctors, func(i, j int) bool {
		return doctors[i].TotalCertificates > doctors[j].TotalCertificates
	})
	if limit > 0 && limit < len(doctors) {
		doctors = doctors[:limit]
	}
	return doctors
}

// TopEmployeesByCertificates returns employees ordered by certificate count
// descending; ties keep insertion order. A non-positive limit returns all.
func (s *Service) TopEmployeesByCertificates(limit int) []Employee {
	employees := s.store.ListEmployees()
	sort.SliceStable(employees, func(i, j int) bool {
		return employees[i].TotalCertificates > employees[j].TotalCertificates
	})
	if limit > 0 && limit < len(employees) {
		employees = employees[:limit]
	}
	return employees
}

// Statistics computes aggregate figures over the whole record base.
func (s *Service) Statistics() Stats {
	certs := s.store.ListCertificates()
	doctors := s.store.ListDoctors()
	stats := Stats{
		TotalDoctors:      len(doctors),
		TotalEmployees:    len(s.store.ListEmployees()),
		TotalCertificates: len(certs),
	}
	for _, doctor := range doctors {
		stats.TotalAttendances += doctor.TotalAttendances
	}
	for _, cert := range certs {
		stats.TotalDaysOff += cert.DaysOff
		if cert.PsychosocialRisk {
			stats.RiskCertificates++
		}
	}
	if stats.TotalCertificates > 0 {
		stats.RiskRatio = float64(stats.RiskCertificates) / float64(stats.TotalCertificates)
	}
	if stats.TotalDoctors > 0 {
		stats.CertificatesPerDoctor = float64(stats.TotalCertificates) / float64(stats.TotalDoctors)
	}
	if stats.TotalEmployees > 0 {
		stats.CertificatesPerEmployee = float64(stats.TotalCertificates) / float64(stats.TotalEmployees)
	}
	return stats
}

// RiskCertificates projects risk-flagged certificates joined with employee
// and doctor data, most recent certificate date first. Same-date cases keep
// insertion order.
func (s *Service) RiskCertificates() []RiskCase {
	var cases []RiskCase
	for _, cert := range s.store.ListCertificates() {
		if !cert.PsychosocialRisk {
			continue
		}
		item := RiskCase{Certificate: cert}
		if employee, ok := s.store.GetEmployee(cert.EmployeeID); ok {
			item.EmployeeName = employee.Name
			item.Department = employee.Department
		}
		if doctor, ok := s.store.GetDoctor(cert.DoctorID); ok {
			item.DoctorName = doctor.Name
		}
		cases = append(cases, item)
	}
	// Dates are ISO strings, so lexicographic comparison orders them.
	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].Certificate.Date > cases[j].Certificate.Date
	})
	return cases
}

// RiskCategoryCounts groups risk-flagged certificates by risk category,
// largest bucket first; ties order alphabetically.
func (s *Service) RiskCategoryCounts() []CategoryCount {
	counts := make(map[string]int)
	for _, cert := range s.store.ListCertificates() {
		if cert.PsychosocialRisk {
			counts[cert.RiskDetail]++
		}
	}
	return sortedCounts(counts)
}

// DepartmentCounts groups risk-flagged certificates by the employee's
// department, largest bucket first; ties order alphabetically.
func (s *Service) DepartmentCounts() []CategoryCount {
	counts := make(map[string]int)
	for _, item := range s.RiskCertificates() {
		label := item.Department
		if label == "" {
			label = UnassignedDepartment
		}
		counts[label]++
	}
	return sortedCounts(counts)
}

func sortedCounts(counts map[string]int) []CategoryCount {
	out := make([]CategoryCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, CategoryCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
