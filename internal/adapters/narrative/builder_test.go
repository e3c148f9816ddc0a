package narrative_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"certcore/internal/adapters/narrative"
	"certcore/internal/core"
)

func seedService(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()

	doctor, _, err := svc.AddDoctor(ctx, core.Doctor{CRM: "100/SP", Name: "Dra. Ana"})
	if err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	employee, _, err := svc.AddEmployee(ctx, core.Employee{Registration: "1", Name: "Carlos", Department: "TI"})
	if err != nil {
		t.Fatalf("add employee: %v", err)
	}
	for _, c := range []struct{ date, cid string }{
		{"2024-01-05", "F41"},
		{"2024-01-06", "M54"},
	} {
		if _, _, err := svc.AddCertificate(ctx, core.Certificate{
			DoctorID:   doctor.ID,
			EmployeeID: employee.ID,
			Date:       c.date,
			DaysOff:    5,
			RawCID:     c.cid,
		}); err != nil {
			t.Fatalf("add certificate: %v", err)
		}
	}
	return svc
}

func TestBuildPayload(t *testing.T) {
	builder := narrative.NewBuilder(seedService(t))
	payload := builder.Build()
	if payload.Stats.TotalCertificates != 2 || payload.Stats.RiskCertificates != 1 {
		t.Fatalf("stats = %+v", payload.Stats)
	}
	if len(payload.RiskCategories) != 1 || payload.RiskCategories[0].Label != "Transtornos de Ansiedade (Pânico/Generalizada)" {
		t.Fatalf("categories = %+v", payload.RiskCategories)
	}
	if len(payload.Departments) != 1 || payload.Departments[0].Label != "TI" {
		t.Fatalf("departments = %+v", payload.Departments)
	}
}

func TestPromptDeterministic(t *testing.T) {
	builder := narrative.NewBuilder(seedService(t))
	first := builder.Prompt()
	second := builder.Prompt()
	if first != second {
		t.Fatal("prompt not deterministic")
	}
	for _, fragment := range []string{
		"Atestados registrados: 2",
		"indício de risco psicossocial: 1 (50%)",
		"Transtornos de Ansiedade (Pânico/Generalizada): 1",
		"- TI: 1",
	} {
		if !strings.Contains(first, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, first)
		}
	}
}

func TestPromptEmptyBase(t *testing.T) {
	builder := narrative.NewBuilder(core.NewInMemoryService(nil))
	prompt := builder.Prompt()
	if !strings.Contains(prompt, "nenhuma ocorrência") {
		t.Fatalf("empty base prompt:\n%s", prompt)
	}
}

func TestJSONPayload(t *testing.T) {
	builder := narrative.NewBuilder(seedService(t))
	data, err := builder.JSON()
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	var payload narrative.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Stats.TotalDoctors != 1 {
		t.Fatalf("payload = %+v", payload)
	}
}
