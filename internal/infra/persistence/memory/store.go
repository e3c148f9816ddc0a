// Package memory provides the in-memory implementation of the core
// persistence ports. Durable drivers embed this store and snapshot its state
// after every committed transaction.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"certcore/internal/classify"
	"certcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the
// domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
	_ domain.TransactionView = transactionView{}
)

// Aliases keeping method signatures concise while exposing domain types from
// this infra package.
type (
	// Doctor is an alias of domain.Doctor.
	Doctor = domain.Doctor
	// Employee is an alias of domain.Employee.
	Employee = domain.Employee
	// Certificate is an alias of domain.Certificate.
	Certificate = domain.Certificate
	// Change is an alias of domain.Change.
	Change = domain.Change
	// Result is an alias of domain.Result.
	Result = domain.Result
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	doctors      map[string]Doctor
	employees    map[string]Employee
	certificates map[string]Certificate
	seq          uint64
}

func newMemoryState() memoryState {
	return memoryState{
		doctors:      make(map[string]Doctor),
		employees:    make(map[string]Employee),
		certificates: make(map[string]Certificate),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.seq = s.seq
	for k, v := range s.doctors {
		cloned.doctors[k] = cloneDoctor(v)
	}
	for k, v := range s.employees {
		cloned.employees[k] = v
	}
	for k, v := range s.certificates {
		cloned.certificates[k] = v
	}
	return cloned
}

func cloneDoctor(d Doctor) Doctor {
	cp := d
	if d.LastAttendance != nil {
		last := *d.LastAttendance
		cp.LastAttendance = &last
	}
	return cp
}

// Snapshot is the fully materialized persisted state: the three collections
// plus the last-modified timestamp, treated as one consistency unit.
type Snapshot struct {
	Doctors      map[string]Doctor      `json:"doctors"`
	Employees    map[string]Employee    `json:"employees"`
	Certificates map[string]Certificate `json:"certificates"`
	LastUpdate   time.Time              `json:"last_update"`
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu         sync.RWMutex
	state      memoryState
	engine     *RulesEngine
	nowFn      func() time.Time
	lastUpdate time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := Snapshot{
		Doctors:      make(map[string]Doctor, len(s.state.doctors)),
		Employees:    make(map[string]Employee, len(s.state.employees)),
		Certificates: make(map[string]Certificate, len(s.state.certificates)),
		LastUpdate:   s.lastUpdate,
	}
	for k, v := range s.state.doctors {
		snapshot.Doctors[k] = cloneDoctor(v)
	}
	for k, v := range s.state.employees {
		snapshot.Employees[k] = v
	}
	for k, v := range s.state.certificates {
		snapshot.Certificates[k] = v
	}
	return snapshot
}

// ImportState replaces the store state with the provided snapshot. The
// insertion sequence resumes after the highest sequence present.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snapshot.Doctors {
		state.doctors[k] = cloneDoctor(v)
		if v.Seq > state.seq {
			state.seq = v.Seq
		}
	}
	for k, v := range snapshot.Employees {
		state.employees[k] = v
		if v.Seq > state.seq {
			state.seq = v.Seq
		}
	}
	for k, v := range snapshot.Certificates {
		state.certificates[k] = v
		if v.Seq > state.seq {
			state.seq = v.Seq
		}
	}
	s.state = state
	s.lastUpdate = snapshot.LastUpdate
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// LastUpdate reports when the last transaction committed (or the snapshot
// timestamp after ImportState).
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListDoctors returns all doctors ordered by insertion sequence.
func (v transactionView) ListDoctors() []Doctor {
	out := make([]Doctor, 0, len(v.state.doctors))
	for _, d := range v.state.doctors {
		out = append(out, cloneDoctor(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListEmployees returns all employees ordered by insertion sequence.
func (v transactionView) ListEmployees() []Employee {
	out := make([]Employee, 0, len(v.state.employees))
	for _, e := range v.state.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListCertificates returns all certificates ordered by insertion sequence.
func (v transactionView) ListCertificates() []Certificate {
	out := make([]Certificate, 0, len(v.state.certificates))
	for _, c := range v.state.certificates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// FindDoctor retrieves a doctor by ID from the snapshot.
func (v transactionView) FindDoctor(id string) (Doctor, bool) {
	d, ok := v.state.doctors[id]
	if !ok {
		return Doctor{}, false
	}
	return cloneDoctor(d), true
}

// FindEmployee retrieves an employee by ID from the snapshot.
func (v transactionView) FindEmployee(id string) (Employee, bool) {
	e, ok := v.state.employees[id]
	return e, ok
}

// FindCertificate retrieves a certificate by ID from the snapshot.
func (v transactionView) FindCertificate(id string) (Certificate, bool) {
	c, ok := v.state.certificates[id]
	return c, ok
}

// FindDoctorByCRM retrieves a doctor by business key, case-insensitively.
func (v transactionView) FindDoctorByCRM(crm string) (Doctor, bool) {
	return findDoctorByCRM(*v.state, crm)
}

// FindEmployeeByRegistration retrieves an employee by business key, exactly.
func (v transactionView) FindEmployeeByRegistration(registration string) (Employee, bool) {
	return findEmployeeByRegistration(*v.state, registration)
}

func findDoctorByCRM(state memoryState, crm string) (Doctor, bool) {
	for _, d := range state.doctors {
		if strings.EqualFold(d.CRM, crm) {
			return cloneDoctor(d), true
		}
	}
	return Doctor{}, false
}

func findEmployeeByRegistration(state memoryState, registration string) (Employee, bool) {
	for _, e := range state.employees {
		if e.Registration == registration {
			return e, true
		}
	}
	return Employee{}, false
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the live state only when fn succeeds and no
// blocking rule violation is found.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	s.lastUpdate = tx.now
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindDoctor exposes doctor lookup within the transaction scope.
func (tx *transaction) FindDoctor(id string) (Doctor, bool) {
	d, ok := tx.state.doctors[id]
	if !ok {
		return Doctor{}, false
	}
	return cloneDoctor(d), true
}

// FindEmployee exposes employee lookup within the transaction scope.
func (tx *transaction) FindEmployee(id string) (Employee, bool) {
	e, ok := tx.state.employees[id]
	return e, ok
}

// FindDoctorByCRM exposes business-key lookup within the transaction scope.
func (tx *transaction) FindDoctorByCRM(crm string) (Doctor, bool) {
	return findDoctorByCRM(tx.state, crm)
}

// FindEmployeeByRegistration exposes business-key lookup within the
// transaction scope.
func (tx *transaction) FindEmployeeByRegistration(registration string) (Employee, bool) {
	return findEmployeeByRegistration(tx.state, registration)
}

func (tx *transaction) nextSeq() uint64 {
	tx.state.seq++
	return tx.state.seq
}

// CreateDoctor inserts a new doctor with zeroed counters. The CRM business
// key must be unique under case-insensitive comparison.
func (tx *transaction) CreateDoctor(d Doctor) (Doctor, error) {
	if strings.TrimSpace(d.CRM) == "" {
		return Doctor{}, domain.ValidationError{Field: "crm"}
	}
	if strings.TrimSpace(d.Name) == "" {
		return Doctor{}, domain.ValidationError{Field: "name"}
	}
	if existing, ok := findDoctorByCRM(tx.state, d.CRM); ok {
		return Doctor{}, domain.ValidationError{Field: "crm", Reason: "doctor with CRM " + existing.CRM + " already registered"}
	}
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	d.Seq = tx.nextSeq()
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	d.TotalAttendances = 0
	d.TotalCertificates = 0
	d.LastAttendance = nil
	tx.state.doctors[d.ID] = cloneDoctor(d)
	tx.recordChange(Change{Entity: domain.EntityDoctor, Action: domain.ActionCreate, After: cloneDoctor(d)})
	return cloneDoctor(d), nil
}

// UpdateDoctor mutates a doctor using the provided mutator. Identity and
// bookkeeping fields are preserved; counter edits are caught by the counter
// integrity rule at commit.
func (tx *transaction) UpdateDoctor(id string, mutator func(*Doctor) error) (Doctor, error) {
	current, ok := tx.state.doctors[id]
	if !ok {
		return Doctor{}, domain.NotFoundError{Entity: domain.EntityDoctor, ID: id}
	}
	before := cloneDoctor(current)
	if err := mutator(&current); err != nil {
		return Doctor{}, err
	}
	current.ID = id
	current.Seq = before.Seq
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.doctors[id] = cloneDoctor(current)
	tx.recordChange(Change{Entity: domain.EntityDoctor, Action: domain.ActionUpdate, Before: before, After: cloneDoctor(current)})
	return cloneDoctor(current), nil
}

// DeleteDoctor removes a doctor that no certificate references. Referenced
// doctors are refused, never cascaded.
func (tx *transaction) DeleteDoctor(id string) error {
	current, ok := tx.state.doctors[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityDoctor, ID: id}
	}
	references := 0
	for _, cert := range tx.state.certificates {
		if cert.DoctorID == id {
			references++
		}
	}
	if references > 0 {
		return domain.ConflictError{Entity: domain.EntityDoctor, ID: id, References: references}
	}
	delete(tx.state.doctors, id)
	tx.recordChange(Change{Entity: domain.EntityDoctor, Action: domain.ActionDelete, Before: cloneDoctor(current)})
	return nil
}

// CreateEmployee inserts a new employee with zeroed counters. The
// registration business key must be unique under exact comparison.
func (tx *transaction) CreateEmployee(e Employee) (Employee, error) {
	if strings.TrimSpace(e.Registration) == "" {
		return Employee{}, domain.ValidationError{Field: "registration"}
	}
	if strings.TrimSpace(e.Name) == "" {
		return Employee{}, domain.ValidationError{Field: "name"}
	}
	if _, ok := findEmployeeByRegistration(tx.state, e.Registration); ok {
		return Employee{}, domain.ValidationError{Field: "registration", Reason: "employee " + e.Registration + " already registered"}
	}
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	e.Seq = tx.nextSeq()
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	e.TotalAttendances = 0
	e.TotalCertificates = 0
	tx.state.employees[e.ID] = e
	tx.recordChange(Change{Entity: domain.EntityEmployee, Action: domain.ActionCreate, After: e})
	return e, nil
}

// UpdateEmployee mutates an employee using the provided mutator.
func (tx *transaction) UpdateEmployee(id string, mutator func(*Employee) error) (Employee, error) {
	current, ok := tx.state.employees[id]
	if !ok {
		return Employee{}, domain.NotFoundError{Entity: domain.EntityEmployee, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Employee{}, err
	}
	current.ID = id
	current.Seq = before.Seq
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.employees[id] = current
	tx.recordChange(Change{Entity: domain.EntityEmployee, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateCertificate inserts an immutable certificate record. Both referenced
// parties must exist; the CID classification is computed here, stored on the
// record, and folded into both parties' counters in the same transaction.
func (tx *transaction) CreateCertificate(c Certificate) (Certificate, error) {
	doctor, ok := tx.state.doctors[c.DoctorID]
	if !ok {
		return Certificate{}, domain.ReferenceError{Entity: domain.EntityDoctor, ID: c.DoctorID}
	}
	employee, ok := tx.state.employees[c.EmployeeID]
	if !ok {
		return Certificate{}, domain.ReferenceError{Entity: domain.EntityEmployee, ID: c.EmployeeID}
	}
	if strings.TrimSpace(c.Date) == "" {
		return Certificate{}, domain.ValidationError{Field: "certificate_date"}
	}
	if c.DaysOff < 0 {
		return Certificate{}, domain.ValidationError{Field: "days_off", Reason: "must not be negative"}
	}

	c.CID = classify.Normalize(c.RawCID)
	classification := classify.Classify(c.CID)
	c.PsychosocialRisk = classification.Risk
	c.RiskDetail = classification.Description

	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	c.Seq = tx.nextSeq()
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.certificates[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCertificate, Action: domain.ActionCreate, After: c})

	doctorBefore := cloneDoctor(doctor)
	doctor.TotalAttendances++
	doctor.TotalCertificates++
	date := c.Date
	doctor.LastAttendance = &date
	doctor.UpdatedAt = tx.now
	tx.state.doctors[doctor.ID] = cloneDoctor(doctor)
	tx.recordChange(Change{Entity: domain.EntityDoctor, Action: domain.ActionUpdate, Before: doctorBefore, After: cloneDoctor(doctor)})

	employeeBefore := employee
	employee.TotalAttendances++
	employee.TotalCertificates++
	employee.UpdatedAt = tx.now
	tx.state.employees[employee.ID] = employee
	tx.recordChange(Change{Entity: domain.EntityEmployee, Action: domain.ActionUpdate, Before: employeeBefore, After: employee})

	return c, nil
}

// GetDoctor retrieves a doctor by ID.
func (s *Store) GetDoctor(id string) (Doctor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.doctors[id]
	if !ok {
		return Doctor{}, false
	}
	return cloneDoctor(d), true
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(id string) (Employee, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.employees[id]
	return e, ok
}

// GetCertificate retrieves a certificate by ID.
func (s *Store) GetCertificate(id string) (Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.certificates[id]
	return c, ok
}

// ListDoctors returns all doctors ordered by insertion sequence.
func (s *Store) ListDoctors() []Doctor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Doctor, 0, len(s.state.doctors))
	for _, d := range s.state.doctors {
		out = append(out, cloneDoctor(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListEmployees returns all employees ordered by insertion sequence.
func (s *Store) ListEmployees() []Employee {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Employee, 0, len(s.state.employees))
	for _, e := range s.state.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListCertificates returns all certificates ordered by insertion sequence.
func (s *Store) ListCertificates() []Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Certificate, 0, len(s.state.certificates))
	for _, c := range s.state.certificates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
