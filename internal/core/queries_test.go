package core

import (
	"context"
	"testing"
)

func seedCertificate(t *testing.T, svc *Service, doctorID, employeeID, date, cid string, daysOff int) Certificate {
	t.Helper()
	cert, _, err := svc.AddCertificate(context.Background(), Certificate{
		DoctorID:   doctorID,
		EmployeeID: employeeID,
		Date:       date,
		DaysOff:    daysOff,
		RawCID:     cid,
	})
	if err != nil {
		t.Fatalf("add certificate: %v", err)
	}
	return cert
}

func seedRecordBase(t *testing.T) *Service {
	t.Helper()
	svc := NewInMemoryService(nil)
	drA := seedDoctor(t, svc, "100/SP", "Dra. Ana")
	drB := seedDoctor(t, svc, "200/SP", "Dr. Bruno")
	empTI := seedEmployee(t, svc, "1", "Carlos", "TI")
	empRH := seedEmployee(t, svc, "2", "Daniela", "RH")
	empNone := seedEmployee(t, svc, "3", "Edson", "")

	seedCertificate(t, svc, drA.ID, empTI.ID, "2024-01-05", "F32.1", 10)
	seedCertificate(t, svc, drA.ID, empRH.ID, "2024-01-20", "Z73.0", 5)
	seedCertificate(t, svc, drA.ID, empTI.ID, "2024-01-10", "M54", 2)
	seedCertificate(t, svc, drB.ID, empNone.ID, "2024-01-20", "F41.0", 15)
	return svc
}

func TestTopDoctorsOrderingAndLimit(t *testing.T) {
	svc := seedRecordBase(t)

	top := svc.TopDoctorsByCertificates(1)
	if len(top) != 1 || top[0].Name != "Dra. Ana" || top[0].TotalCertificates != 3 {
		t.Fatalf("top doctor = %+v", top)
	}
	all := svc.TopDoctorsByCertificates(0)
	if len(all) != 2 || all[1].Name != "Dr. Bruno" {
		t.Fatalf("full ranking = %+v", all)
	}
}

func TestTopEmployeesTieKeepsInsertionOrder(t *testing.T) {
	svc := NewInMemoryService(nil)
	doctor := seedDoctor(t, svc, "100/SP", "Dra. Ana")
	first := seedEmployee(t, svc, "1", "Primeiro", "")
	second := seedEmployee(t, svc, "2", "Segundo", "")

	seedCertificate(t, svc, doctor.ID, second.ID, "2024-01-01", "", 1)
	seedCertificate(t, svc, doctor.ID, first.ID, "2024-01-02", "", 1)

	top := svc.TopEmployeesByCertificates(2)
	if top[0].ID != first.ID || top[1].ID != second.ID {
		t.Fatalf("tie broke insertion order: %+v", top)
	}
}

func TestTopDoctorsTieKeepsInsertionOrder(t *testing.T) {
	svc := NewInMemoryService(nil)
	leader := seedDoctor(t, svc, "100/SP", "Dra. Ana")
	first := seedDoctor(t, svc, "200/SP", "Dr. Bruno")
	second := seedDoctor(t, svc, "300/SP", "Dra. Clara")
	employee := seedEmployee(t, svc, "1", "Carlos", "")

	for i := 0; i < 5; i++ {
		seedCertificate(t, svc, leader.ID, employee.ID, "2024-01-01", "", 1)
	}
	for i := 0; i < 3; i++ {
		seedCertificate(t, svc, second.ID, employee.ID, "2024-01-02", "", 1)
	}
	for i := 0; i < 3; i++ {
		seedCertificate(t, svc, first.ID, employee.ID, "2024-01-03", "", 1)
	}

	top := svc.TopDoctorsByCertificates(2)
	if len(top) != 2 || top[0].ID != leader.ID {
		t.Fatalf("ranking = %+v", top)
	}
	// Bruno and Clara tie at three; registration order decides.
	if top[1].ID != first.ID {
		t.Fatalf("tie broke insertion order: %+v", top)
	}
	all := svc.TopDoctorsByCertificates(0)
	if len(all) != 3 || all[2].ID != second.ID {
		t.Fatalf("full ranking = %+v", all)
	}
}

func TestStatisticsAggregates(t *testing.T) {
	stats := seedRecordBase(t).Statistics()
	if stats.TotalDoctors != 2 || stats.TotalEmployees != 3 || stats.TotalCertificates != 4 {
		t.Fatalf("totals = %+v", stats)
	}
	if stats.TotalAttendances != 4 || stats.TotalDaysOff != 32 || stats.RiskCertificates != 3 {
		t.Fatalf("aggregates = %+v", stats)
	}
	if stats.RiskRatio != 0.75 {
		t.Fatalf("risk ratio = %v", stats.RiskRatio)
	}
	if stats.CertificatesPerDoctor != 2 {
		t.Fatalf("per doctor = %v", stats.CertificatesPerDoctor)
	}
}

func TestStatisticsZeroSafe(t *testing.T) {
	stats := NewInMemoryService(nil).Statistics()
	if stats.RiskRatio != 0 || stats.CertificatesPerDoctor != 0 || stats.CertificatesPerEmployee != 0 {
		t.Fatalf("empty base ratios = %+v", stats)
	}
}

func TestRiskCertificatesJoinAndOrder(t *testing.T) {
	cases := seedRecordBase(t).RiskCertificates()
	if len(cases) != 3 {
		t.Fatalf("risk cases = %d, want 3", len(cases))
	}
	// Most recent date first; the two 2024-01-20 cases keep insertion order.
	if cases[0].EmployeeName != "Daniela" || cases[0].Department != "RH" {
		t.Fatalf("first case = %+v", cases[0])
	}
	if cases[1].EmployeeName != "Edson" || cases[1].DoctorName != "Dr. Bruno" {
		t.Fatalf("second case = %+v", cases[1])
	}
	if cases[2].Certificate.Date != "2024-01-05" {
		t.Fatalf("third case = %+v", cases[2])
	}
}

func TestRiskCategoryAndDepartmentCounts(t *testing.T) {
	svc := seedRecordBase(t)

	categories := svc.RiskCategoryCounts()
	if len(categories) != 3 {
		t.Fatalf("categories = %+v", categories)
	}
	for _, c := range categories {
		if c.Count != 1 {
			t.Fatalf("category counts = %+v", categories)
		}
	}

	departments := svc.DepartmentCounts()
	if len(departments) != 3 {
		t.Fatalf("departments = %+v", departments)
	}
	found := false
	for _, d := range departments {
		if d.Label == UnassignedDepartment && d.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing unassigned bucket: %+v", departments)
	}
}

func TestPartyLookupByBusinessKey(t *testing.T) {
	svc := seedRecordBase(t)
	ctx := context.Background()

	if doctor, ok := svc.DoctorByCRM(ctx, "100/sp"); !ok || doctor.Name != "Dra. Ana" {
		t.Fatalf("doctor lookup = %+v (ok=%v)", doctor, ok)
	}
	if _, ok := svc.EmployeeByRegistration(ctx, "404"); ok {
		t.Fatal("unknown registration resolved")
	}
}
