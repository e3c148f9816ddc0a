package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"certcore/pkg/domain"
)

// Recorder is the mutation surface the importer drives. The core service
// satisfies it.
type Recorder interface {
	AddDoctor(ctx context.Context, input domain.Doctor) (domain.Doctor, domain.Result, error)
	AddEmployee(ctx context.Context, input domain.Employee) (domain.Employee, domain.Result, error)
	AddCertificateByKeys(ctx context.Context, crm, registration string, input domain.Certificate) (domain.Certificate, domain.Result, error)
}

// RowError reports one rejected CSV row. Line numbers are 1-based and include
// the header.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

// Summary reports an import batch outcome. Row failures never abort the
// batch.
type Summary struct {
	Imported int
	Failures []RowError
}

// Importer ingests the fixed-column CSV layouts produced by Exporter.
type Importer struct {
	recorder Recorder
}

// NewImporter constructs an importer that records rows through recorder.
func NewImporter(recorder Recorder) *Importer {
	return &Importer{recorder: recorder}
}

// ImportDoctors reads rows of crm,name,specialty,phone,email.
func (im *Importer) ImportDoctors(ctx context.Context, r io.Reader) (Summary, error) {
	return im.eachRow(r, "crm", 2, func(line int, record []string) error {
		doctor := domain.Doctor{CRM: record[0], Name: record[1]}
		if len(record) > 2 {
			doctor.Specialty = record[2]
		}
		if len(record) > 3 {
			doctor.Phone = record[3]
		}
		if len(record) > 4 {
			doctor.Email = record[4]
		}
		_, _, err := im.recorder.AddDoctor(ctx, doctor)
		return err
	})
}

// ImportEmployees reads rows of registration,name,department,role.
func (im *Importer) ImportEmployees(ctx context.Context, r io.Reader) (Summary, error) {
	return im.eachRow(r, "registration", 2, func(line int, record []string) error {
		employee := domain.Employee{Registration: record[0], Name: record[1]}
		if len(record) > 2 {
			employee.Department = record[2]
		}
		if len(record) > 3 {
			employee.Role = record[3]
		}
		_, _, err := im.recorder.AddEmployee(ctx, employee)
		return err
	})
}

// ImportCertificates reads rows of
// crm,registration,date,days_off,cid,diagnosis,workplace, resolving the
// parties by their business keys.
func (im *Importer) ImportCertificates(ctx context.Context, r io.Reader) (Summary, error) {
	return im.eachRow(r, "crm", 4, func(line int, record []string) error {
		daysOff, err := strconv.Atoi(strings.TrimSpace(record[3]))
		if err != nil {
			return fmt.Errorf("days_off %q: %w", record[3], err)
		}
		cert := domain.Certificate{Date: strings.TrimSpace(record[2]), DaysOff: daysOff}
		if len(record) > 4 {
			cert.RawCID = record[4]
		}
		if len(record) > 5 {
			cert.Diagnosis = record[5]
		}
		if len(record) > 6 {
			cert.Workplace = record[6]
		}
		_, _, err = im.recorder.AddCertificateByKeys(ctx, record[0], record[1], cert)
		return err
	})
}

// eachRow streams records, skipping an optional header whose first column
// matches headerField, and applies fn per row collecting failures.
func (im *Importer) eachRow(r io.Reader, headerField string, minColumns int, fn func(line int, record []string) error) (Summary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var summary Summary
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), headerField) {
			continue
		}
		if len(record) < minColumns {
			summary.Failures = append(summary.Failures, RowError{Line: line, Err: fmt.Errorf("expected at least %d columns, got %d", minColumns, len(record))})
			continue
		}
		if err := fn(line, record); err != nil {
			summary.Failures = append(summary.Failures, RowError{Line: line, Err: err})
			continue
		}
		summary.Imported++
	}
}
