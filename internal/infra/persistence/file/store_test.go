package file_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"certcore/internal/infra/persistence/file"
	"certcore/pkg/domain"
)

func openStore(t *testing.T, path string) *file.Store {
	t.Helper()
	store, err := file.NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestNewStoreMaterializesEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "certcore.json")
	openStore(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	for _, key := range []string{"doctors", "employees", "certificates", "last_update"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("snapshot missing %q field", key)
		}
	}
}

func TestReloadRestoresFullState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certcore.json")
	store := openStore(t, path)
	ctx := context.Background()

	var doctorID, employeeID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		doctor, err := tx.CreateDoctor(domain.Doctor{CRM: "1/SP", Name: "A"})
		if err != nil {
			return err
		}
		doctorID = doctor.ID
		employee, err := tx.CreateEmployee(domain.Employee{Registration: "1", Name: "B"})
		if err != nil {
			return err
		}
		employeeID = employee.ID
		_, err = tx.CreateCertificate(domain.Certificate{
			DoctorID:   doctorID,
			EmployeeID: employeeID,
			Date:       "2024-01-01",
			DaysOff:    5,
			RawCID:     "F41",
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reopened := openStore(t, path)
	doctor, ok := reopened.GetDoctor(doctorID)
	if !ok || doctor.TotalCertificates != 1 {
		t.Fatalf("reloaded doctor = %+v (ok=%v)", doctor, ok)
	}
	certs := reopened.ListCertificates()
	if len(certs) != 1 {
		t.Fatalf("reloaded %d certificates, want 1", len(certs))
	}
	if !certs[0].PsychosocialRisk || certs[0].RiskDetail != "Transtornos de Ansiedade (Pânico/Generalizada)" {
		t.Fatalf("classification lost on reload: %+v", certs[0])
	}
	if reopened.LastUpdate().IsZero() {
		t.Fatal("last update lost on reload")
	}
}

func TestPersistFailureRollsBackMemoryState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certcore.json")
	store := openStore(t, path)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateDoctor(domain.Doctor{CRM: "1/SP", Name: "A"})
		return err
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// Make the data directory unwritable so the temp-file creation fails.
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o750) })

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateEmployee(domain.Employee{Registration: "1", Name: "B"})
		return err
	})
	var persistErr domain.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("persist failure surfaced as %v, want PersistenceError", err)
	}
	if len(store.ListEmployees()) != 0 {
		t.Fatal("in-memory state ran ahead of the durable snapshot")
	}
	if len(store.ListDoctors()) != 1 {
		t.Fatal("rollback lost previously durable state")
	}
}

func TestCorruptSnapshotRejectedAtOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certcore.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}
	if _, err := file.NewStore(path, nil); err == nil {
		t.Fatal("corrupt snapshot accepted")
	}
}
