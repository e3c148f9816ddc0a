// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by certcore.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDoctor identifies an attending physician record.
	EntityDoctor EntityType = "doctor"
	// EntityEmployee identifies an employee record.
	EntityEmployee EntityType = "employee"
	// EntityCertificate identifies a medical leave certificate record.
	EntityCertificate EntityType = "certificate"
)

// Base carries the generated identity and bookkeeping shared by all records.
// Seq is a store-scoped insertion sequence; read projections use it as the
// stable tie-break so ordering survives snapshot reload.
type Base struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Doctor is an attending physician. CRM is the unique business key, compared
// case-insensitively. Counters are maintained transactionally by certificate
// creation and must never be edited directly.
type Doctor struct {
	Base
	CRM               string  `json:"crm"`
	Name              string  `json:"name"`
	Specialty         string  `json:"specialty,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	Email             string  `json:"email,omitempty"`
	TotalAttendances  int     `json:"total_attendances"`
	TotalCertificates int     `json:"total_certificates"`
	LastAttendance    *string `json:"last_attendance"`
}

// Employee is a company employee. Registration is the unique business key,
// compared exactly.
type Employee struct {
	Base
	Registration      string `json:"registration"`
	Name              string `json:"name"`
	Department        string `json:"department,omitempty"`
	Role              string `json:"role,omitempty"`
	TotalAttendances  int    `json:"total_attendances"`
	TotalCertificates int    `json:"total_certificates"`
}

// Certificate is a medical leave slip referencing exactly one doctor and one
// employee. Records are immutable after creation; the classification fields
// are computed from RawCID at creation time and never recomputed.
type Certificate struct {
	Base
	DoctorID         string `json:"doctor_id"`
	EmployeeID       string `json:"employee_id"`
	Date             string `json:"certificate_date"`
	DaysOff          int    `json:"days_off"`
	Diagnosis        string `json:"diagnosis,omitempty"`
	Workplace        string `json:"workplace,omitempty"`
	RawCID           string `json:"cid_raw,omitempty"`
	CID              string `json:"cid,omitempty"`
	PsychosocialRisk bool   `json:"psychosocial_risk"`
	RiskDetail       string `json:"risk_detail,omitempty"`
}

// Action enumerates mutation kinds recorded in Change entries.
type Action string

// Mutation kinds recorded by transactions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity classifies rule violations.
type Severity string

// Violation severities. Blocking violations abort the transaction.
const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
	SeverityLog   Severity = "log"
)

// Change captures a single entity mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation describes a single rule finding.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates rule findings for a transaction.
type Result struct {
	Violations []Violation
}

// Merge appends the other result's violations.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations, in order.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when a transaction is rejected by blocking
// rule violations.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
	}
	return "transaction blocked: " + strings.Join(msgs, "; ")
}
