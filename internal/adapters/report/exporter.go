// Package report renders the record base as CSV and JSON artifacts and
// ingests the same fixed-column CSV layouts back.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	blobcore "certcore/internal/blob/core"
	"certcore/internal/core"
	"certcore/pkg/domain"
)

// Source exposes the read projections the exporter renders.
type Source interface {
	Doctors() []domain.Doctor
	Employees() []domain.Employee
	Certificates() []domain.Certificate
	RiskCertificates() []core.RiskCase
	Statistics() core.Stats
	LastUpdate() time.Time
}

// AuditEntry captures audit trail metadata for export operations.
type AuditEntry struct {
	Action     string    `json:"action"`
	Key        string    `json:"key"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// Exporter renders the record base into flat artifacts.
type Exporter struct {
	source Source
	audit  AuditLogger
	nowFn  func() time.Time
}

// ExporterOption customizes exporter construction.
type ExporterOption func(*Exporter)

// WithAuditLogger attaches an audit sink to Export.
func WithAuditLogger(audit AuditLogger) ExporterOption {
	return func(e *Exporter) {
		if audit != nil {
			e.audit = audit
		}
	}
}

// NewExporter constructs an exporter over the given source.
func NewExporter(source Source, opts ...ExporterOption) *Exporter {
	e := &Exporter{source: source, audit: noopAudit{}, nowFn: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetNowFunc overrides the clock used for export keys. Intended for tests.
func (e *Exporter) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.nowFn = now
	}
}

var doctorHeader = []string{"crm", "name", "specialty", "phone", "email", "total_attendances", "total_certificates", "last_attendance"}

// RenderDoctorsCSV writes all doctors in insertion order.
func (e *Exporter) RenderDoctorsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(doctorHeader); err != nil {
		return err
	}
	for _, d := range e.source.Doctors() {
		last := ""
		if d.LastAttendance != nil {
			last = *d.LastAttendance
		}
		record := []string{d.CRM, d.Name, d.Specialty, d.Phone, d.Email, strconv.Itoa(d.TotalAttendances), strconv.Itoa(d.TotalCertificates), last}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var employeeHeader = []string{"registration", "name", "department", "role", "total_attendances", "total_certificates"}

// RenderEmployeesCSV writes all employees in insertion order.
func (e *Exporter) RenderEmployeesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(employeeHeader); err != nil {
		return err
	}
	for _, emp := range e.source.Employees() {
		record := []string{emp.Registration, emp.Name, emp.Department, emp.Role, strconv.Itoa(emp.TotalAttendances), strconv.Itoa(emp.TotalCertificates)}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var certificateHeader = []string{"date", "crm", "doctor_name", "registration", "employee_name", "days_off", "cid", "diagnosis", "workplace", "psychosocial_risk", "risk_detail"}

// RenderCertificatesCSV writes all certificates joined with party data, most
// recent date first; same-date rows keep insertion order.
func (e *Exporter) RenderCertificatesCSV(w io.Writer) error {
	doctors := make(map[string]domain.Doctor)
	for _, d := range e.source.Doctors() {
		doctors[d.ID] = d
	}
	employees := make(map[string]domain.Employee)
	for _, emp := range e.source.Employees() {
		employees[emp.ID] = emp
	}
	certs := e.source.Certificates()
	sort.SliceStable(certs, func(i, j int) bool { return certs[i].Date > certs[j].Date })

	cw := csv.NewWriter(w)
	if err := cw.Write(certificateHeader); err != nil {
		return err
	}
	for _, cert := range certs {
		doctor := doctors[cert.DoctorID]
		employee := employees[cert.EmployeeID]
		record := []string{
			cert.Date,
			doctor.CRM,
			doctor.Name,
			employee.Registration,
			employee.Name,
			strconv.Itoa(cert.DaysOff),
			cert.CID,
			cert.Diagnosis,
			cert.Workplace,
			strconv.FormatBool(cert.PsychosocialRisk),
			cert.RiskDetail,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var riskHeader = []string{"date", "employee_name", "department", "doctor_name", "cid", "risk_detail", "days_off"}

// RenderRiskCSV writes the risk-flagged certificate projection.
func (e *Exporter) RenderRiskCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(riskHeader); err != nil {
		return err
	}
	for _, item := range e.source.RiskCertificates() {
		record := []string{
			item.Certificate.Date,
			item.EmployeeName,
			item.Department,
			item.DoctorName,
			item.Certificate.CID,
			item.Certificate.RiskDetail,
			strconv.Itoa(item.Certificate.DaysOff),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonDocument struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	LastUpdate   time.Time            `json:"last_update"`
	Stats        core.Stats           `json:"stats"`
	Doctors      []domain.Doctor      `json:"doctors"`
	Employees    []domain.Employee    `json:"employees"`
	Certificates []domain.Certificate `json:"certificates"`
}

// RenderJSON writes the full record base as one JSON document.
func (e *Exporter) RenderJSON(w io.Writer) error {
	doc := jsonDocument{
		GeneratedAt:  e.nowFn().UTC(),
		LastUpdate:   e.source.LastUpdate(),
		Stats:        e.source.Statistics(),
		Doctors:      e.source.Doctors(),
		Employees:    e.source.Employees(),
		Certificates: e.source.Certificates(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Export renders every artifact into the blob store under a timestamped
// prefix and returns their descriptors in render order.
func (e *Exporter) Export(ctx context.Context, store blobcore.Store) ([]blobcore.Info, error) {
	prefix := fmt.Sprintf("exports/%s/", e.nowFn().UTC().Format("20060102_150405"))
	artifacts := []struct {
		name        string
		contentType string
		render      func(io.Writer) error
	}{
		{"doctors.csv", "text/csv", e.RenderDoctorsCSV},
		{"employees.csv", "text/csv", e.RenderEmployeesCSV},
		{"certificates.csv", "text/csv", e.RenderCertificatesCSV},
		{"risks.csv", "text/csv", e.RenderRiskCSV},
		{"records.json", "application/json", e.RenderJSON},
	}

	infos := make([]blobcore.Info, 0, len(artifacts))
	for _, artifact := range artifacts {
		key := prefix + artifact.name
		var buf bytes.Buffer
		if err := artifact.render(&buf); err != nil {
			e.record(ctx, key, "failed", err.Error())
			return nil, fmt.Errorf("render %s: %w", artifact.name, err)
		}
		info, err := store.Put(ctx, key, &buf, blobcore.PutOptions{ContentType: artifact.contentType})
		if err != nil {
			e.record(ctx, key, "failed", err.Error())
			return nil, fmt.Errorf("store %s: %w", artifact.name, err)
		}
		e.record(ctx, key, "succeeded", "")
		infos = append(infos, info)
	}
	return infos, nil
}

func (e *Exporter) record(ctx context.Context, key, status, reason string) {
	e.audit.Record(ctx, AuditEntry{
		Action:     "export.render",
		Key:        key,
		Status:     status,
		Reason:     reason,
		OccurredAt: e.nowFn().UTC(),
	})
}
