package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"certcore/internal/infra/persistence/memory"
	"certcore/pkg/domain"
)

func seedParties(t *testing.T, store *memory.Store) (doctorID, employeeID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		doctor, err := tx.CreateDoctor(domain.Doctor{CRM: "12345/SP", Name: "Dra. Helena Costa", Specialty: "Psiquiatria"})
		if err != nil {
			return err
		}
		doctorID = doctor.ID
		employee, err := tx.CreateEmployee(domain.Employee{Registration: "100", Name: "Marcos Lima", Department: "TI"})
		if err != nil {
			return err
		}
		employeeID = employee.ID
		return nil
	}); err != nil {
		t.Fatalf("seed parties: %v", err)
	}
	return doctorID, employeeID
}

func addCertificate(t *testing.T, store *memory.Store, doctorID, employeeID, date, cid string) domain.Certificate {
	t.Helper()
	var created domain.Certificate
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateCertificate(domain.Certificate{
			DoctorID:   doctorID,
			EmployeeID: employeeID,
			Date:       date,
			DaysOff:    3,
			RawCID:     cid,
		})
		return err
	}); err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return created
}

func TestCertificateCreationMaintainsCounters(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)

	for i := 0; i < 3; i++ {
		addCertificate(t, store, doctorID, employeeID, fmt.Sprintf("2024-01-0%d", i+1), "")
	}

	doctor, ok := store.GetDoctor(doctorID)
	if !ok {
		t.Fatal("doctor missing after inserts")
	}
	if doctor.TotalCertificates != 3 || doctor.TotalAttendances != 3 {
		t.Fatalf("doctor counters = %d/%d, want 3/3", doctor.TotalCertificates, doctor.TotalAttendances)
	}
	if doctor.LastAttendance == nil || *doctor.LastAttendance != "2024-01-03" {
		t.Fatalf("doctor last attendance = %v, want 2024-01-03", doctor.LastAttendance)
	}
	employee, _ := store.GetEmployee(employeeID)
	if employee.TotalCertificates != 3 || employee.TotalAttendances != 3 {
		t.Fatalf("employee counters = %d/%d, want 3/3", employee.TotalCertificates, employee.TotalAttendances)
	}
}

func TestCertificateClassificationStoredOnRecord(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)

	cert := addCertificate(t, store, doctorID, employeeID, "2024-01-01", "z730")
	if cert.CID != "Z73.0" {
		t.Fatalf("normalized CID = %q, want Z73.0", cert.CID)
	}
	if !cert.PsychosocialRisk || cert.RiskDetail != "Burnout (Esgotamento Profissional)" {
		t.Fatalf("classification = %v %q, want burnout risk", cert.PsychosocialRisk, cert.RiskDetail)
	}

	plain := addCertificate(t, store, doctorID, employeeID, "2024-01-02", "M54")
	if plain.PsychosocialRisk || plain.RiskDetail != "" {
		t.Fatalf("M54 flagged as risk: %+v", plain)
	}
}

func TestCertificateReferenceValidation(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCertificate(domain.Certificate{DoctorID: "missing", EmployeeID: employeeID, Date: "2024-01-01"})
		return err
	})
	var refErr domain.ReferenceError
	if !errors.As(err, &refErr) || refErr.Entity != domain.EntityDoctor {
		t.Fatalf("missing doctor error = %v, want ReferenceError{doctor}", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCertificate(domain.Certificate{DoctorID: doctorID, EmployeeID: "missing", Date: "2024-01-01"})
		return err
	})
	if !errors.As(err, &refErr) || refErr.Entity != domain.EntityEmployee {
		t.Fatalf("missing employee error = %v, want ReferenceError{employee}", err)
	}

	// A rejected insert must not leak counter increments.
	doctor, _ := store.GetDoctor(doctorID)
	if doctor.TotalCertificates != 0 {
		t.Fatalf("doctor counter mutated by failed insert: %d", doctor.TotalCertificates)
	}
}

func TestCertificateFieldValidation(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)
	ctx := context.Background()

	var valErr domain.ValidationError
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCertificate(domain.Certificate{DoctorID: doctorID, EmployeeID: employeeID})
		return err
	})
	if !errors.As(err, &valErr) || valErr.Field != "certificate_date" {
		t.Fatalf("missing date error = %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCertificate(domain.Certificate{DoctorID: doctorID, EmployeeID: employeeID, Date: "2024-01-01", DaysOff: -1})
		return err
	})
	if !errors.As(err, &valErr) || valErr.Field != "days_off" {
		t.Fatalf("negative days error = %v", err)
	}
}

func TestBusinessKeyUniqueness(t *testing.T) {
	store := memory.NewStore(nil)
	seedParties(t, store)
	ctx := context.Background()

	var valErr domain.ValidationError
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDoctor(domain.Doctor{CRM: "12345/sp", Name: "Outro Médico"})
		return err
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("case-insensitive CRM duplicate accepted: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEmployee(domain.Employee{Registration: "100", Name: "Duplicado"})
		return err
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("exact registration duplicate accepted: %v", err)
	}
}

func TestViewBusinessKeyLookups(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)

	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		doctor, ok := v.FindDoctorByCRM("12345/sp")
		if !ok || doctor.ID != doctorID {
			t.Fatalf("doctor by crm = %+v, %v", doctor, ok)
		}
		employee, ok := v.FindEmployeeByRegistration("100")
		if !ok || employee.ID != employeeID {
			t.Fatalf("employee by registration = %+v, %v", employee, ok)
		}
		if _, ok := v.FindDoctorByCRM("99999/RJ"); ok {
			t.Fatal("unknown crm resolved")
		}
		if _, ok := v.FindEmployeeByRegistration("999"); ok {
			t.Fatal("unknown registration resolved")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDeleteDoctorRefusedWhileReferenced(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)
	addCertificate(t, store, doctorID, employeeID, "2024-01-01", "")
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteDoctor(doctorID)
	})
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) || conflict.References != 1 {
		t.Fatalf("delete of referenced doctor = %v, want ConflictError with 1 reference", err)
	}
	if _, ok := store.GetDoctor(doctorID); !ok {
		t.Fatal("doctor removed despite refusal")
	}
}

func TestUpdateDoctorPreservesIdentity(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, _ := seedParties(t, store)
	ctx := context.Background()

	updated, err := func() (domain.Doctor, error) {
		var d domain.Doctor
		_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			d, err = tx.UpdateDoctor(doctorID, func(doc *domain.Doctor) error {
				doc.ID = "hijacked"
				doc.Specialty = "Medicina do Trabalho"
				return nil
			})
			return err
		})
		return d, err
	}()
	if err != nil {
		t.Fatalf("update doctor: %v", err)
	}
	if updated.ID != doctorID || updated.Specialty != "Medicina do Trabalho" {
		t.Fatalf("update result = %+v", updated)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateDoctor("missing", func(*domain.Doctor) error { return nil })
		return err
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("update of missing doctor = %v, want NotFoundError", err)
	}
}

func TestSnapshotRoundTripPreservesOrderAndState(t *testing.T) {
	store := memory.NewStore(nil)
	doctorID, employeeID := seedParties(t, store)
	addCertificate(t, store, doctorID, employeeID, "2024-02-01", "F41")

	snapshot := store.ExportState()
	if snapshot.LastUpdate.IsZero() {
		t.Fatal("snapshot last update not stamped")
	}

	restored := memory.NewStore(nil)
	restored.ImportState(snapshot)

	if !restored.LastUpdate().Equal(snapshot.LastUpdate) {
		t.Fatalf("restored last update = %v, want %v", restored.LastUpdate(), snapshot.LastUpdate)
	}
	doctors := restored.ListDoctors()
	if len(doctors) != 1 || doctors[0].ID != doctorID || doctors[0].TotalCertificates != 1 {
		t.Fatalf("restored doctors = %+v", doctors)
	}

	// The insertion sequence resumes after the snapshot's highest value, so
	// later inserts still sort after restored records.
	var lateID string
	if _, err := restored.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		e, err := tx.CreateEmployee(domain.Employee{Registration: "200", Name: "Nova Pessoa"})
		lateID = e.ID
		return err
	}); err != nil {
		t.Fatalf("insert after restore: %v", err)
	}
	employees := restored.ListEmployees()
	if len(employees) != 2 || employees[1].ID != lateID {
		t.Fatalf("restored ordering broken: %+v", employees)
	}
}

type rejectAllRule struct{}

func (rejectAllRule) Name() string { return "reject_all" }

func (rejectAllRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "reject_all",
		Severity: domain.SeverityBlock,
		Message:  "no mutations allowed",
	}}}, nil
}

func TestBlockingRuleViolationAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(rejectAllRule{})
	store := memory.NewStore(engine)

	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDoctor(domain.Doctor{CRM: "1/SP", Name: "A"})
		return err
	})
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("blocked transaction returned %v, want RuleViolationError", err)
	}
	if !res.HasBlocking() {
		t.Fatal("result lacks blocking violation")
	}
	if len(store.ListDoctors()) != 0 {
		t.Fatal("blocked transaction mutated state")
	}
}

func TestNowFuncOverride(t *testing.T) {
	store := memory.NewStore(nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })

	seedParties(t, store)
	if !store.LastUpdate().Equal(fixed) {
		t.Fatalf("last update = %v, want %v", store.LastUpdate(), fixed)
	}
	doctors := store.ListDoctors()
	if !doctors[0].CreatedAt.Equal(fixed) {
		t.Fatalf("created at = %v, want %v", doctors[0].CreatedAt, fixed)
	}
}
