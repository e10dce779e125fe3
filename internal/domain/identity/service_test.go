package identity

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type mockUserRepo struct{ store map[uuid.UUID]*User }

func newMockUserRepo() *mockUserRepo { return &mockUserRepo{store: make(map[uuid.UUID]*User)} }

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.store {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("duplicate email: %s", u.Email)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	m.store[u.ID] = u
	return nil
}
func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}
func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.store {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrNotFound
}
func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	existing, ok := m.store[u.ID]
	if !ok {
		return ErrNotFound
	}
	u.Role = existing.Role
	m.store[u.ID] = u
	return nil
}
func (m *mockUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
	users *mockUserRepo
}

func newMockPatientRepo(users *mockUserRepo) *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient), users: users}
}
func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}
func (m *mockPatientRepo) load(p *Patient) *Patient {
	cp := *p
	cp.User = m.users.store[p.UserID]
	return &cp
}
func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.load(p), nil
}
func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	for _, p := range m.store {
		if p.UserID == userID {
			return m.load(p), nil
		}
	}
	return nil, ErrNotFound
}
func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}
func (m *mockPatientRepo) UpdateMeasurements(ctx context.Context, p *Patient) error {
	return m.Update(ctx, p)
}
func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	p, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.users.store, p.UserID)
	delete(m.store, id)
	return nil
}
func (m *mockPatientRepo) List(_ context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		if f.Stage.Valid() && p.CKDStage != f.Stage {
			continue
		}
		loaded := m.load(p)
		if f.Name != "" && loaded.User != nil &&
			!strings.Contains(strings.ToLower(loaded.User.FullName()), strings.ToLower(f.Name)) {
			continue
		}
		r = append(r, loaded)
	}
	return r, len(r), nil
}

type mockDoctorRepo struct{ store map[uuid.UUID]*Doctor }

func newMockDoctorRepo() *mockDoctorRepo { return &mockDoctorRepo{store: make(map[uuid.UUID]*Doctor)} }
func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	d.ID = uuid.New()
	m.store[d.ID] = d
	return nil
}
func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}
func (m *mockDoctorRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	for _, d := range m.store {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, ErrNotFound
}
func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.store[d.ID]; !ok {
		return ErrNotFound
	}
	m.store[d.ID] = d
	return nil
}
func (m *mockDoctorRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}
func (m *mockDoctorRepo) List(_ context.Context, limit, offset int) ([]*Doctor, int, error) {
	var r []*Doctor
	for _, d := range m.store {
		r = append(r, d)
	}
	return r, len(r), nil
}

func newTestService() *Service {
	users := newMockUserRepo()
	return NewService(users, newMockPatientRepo(users), newMockDoctorRepo(), passTx{}, zerolog.Nop())
}

func f64(v float64) *float64 { return &v }

func newPatientInput(email string) (*User, *Patient) {
	return &User{FirstName: "Amina", LastName: "Benali", Email: email},
		&Patient{BirthDate: time.Date(1960, 4, 12, 0, 0, 0, 0, time.UTC), Gender: GenderFemale, CKDStage: ckd.Stage2}
}

func TestCreatePatient_Success(t *testing.T) {
	svc := newTestService()
	u, p := newPatientInput("amina@example.org")
	if err := svc.CreatePatient(context.Background(), u, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != auth.RolePatient {
		t.Errorf("expected role patient, got %s", u.Role)
	}
	if p.UserID != u.ID {
		t.Error("expected patient to reference the created user")
	}
	if p.ProteinuriaLevel != ckd.A1 {
		t.Errorf("expected default level A1, got %v", p.ProteinuriaLevel)
	}
}

func TestCreatePatient_DerivesFromMeasurements(t *testing.T) {
	svc := newTestService()
	u, p := newPatientInput("derive@example.org")
	p.CKDStage = ckd.Stage1
	p.LastEGFR = f64(42)
	p.LastACR = f64(350)
	if err := svc.CreatePatient(context.Background(), u, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CKDStage != ckd.Stage3B {
		t.Errorf("expected supplied stage to be overridden with Stage 3B, got %v", p.CKDStage)
	}
	if p.ProteinuriaLevel != ckd.A3 {
		t.Errorf("expected A3, got %v", p.ProteinuriaLevel)
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	future := time.Now().AddDate(1, 0, 0)
	tests := []struct {
		name   string
		mutate func(u *User, p *Patient)
	}{
		{"missing name", func(u *User, p *Patient) { u.FirstName = "" }},
		{"missing email", func(u *User, p *Patient) { u.Email = "" }},
		{"bad email", func(u *User, p *Patient) { u.Email = "not-an-email" }},
		{"missing birth date", func(u *User, p *Patient) { p.BirthDate = time.Time{} }},
		{"future birth date", func(u *User, p *Patient) { p.BirthDate = future }},
		{"bad gender", func(u *User, p *Patient) { p.Gender = "X" }},
		{"no stage", func(u *User, p *Patient) { p.CKDStage = 0 }},
		{"negative egfr", func(u *User, p *Patient) { p.LastEGFR = f64(-3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService()
			u, p := newPatientInput("v@example.org")
			tt.mutate(u, p)
			if err := svc.CreatePatient(context.Background(), u, p); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestUpdatePatient_KeepsUserAndRederives(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u, p := newPatientInput("update@example.org")
	if err := svc.CreatePatient(ctx, u, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	upd := &Patient{ID: p.ID, BirthDate: p.BirthDate, Gender: GenderFemale, LastEGFR: f64(20)}
	if err := svc.UpdatePatient(ctx, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.CKDStage != ckd.Stage4 {
		t.Errorf("expected Stage 4, got %v", upd.CKDStage)
	}
	if upd.UserID != u.ID || upd.User == nil || upd.User.Email != "update@example.org" {
		t.Errorf("expected user to be preserved, got %+v", upd.User)
	}
}

func TestUpdatePatient_NotFound(t *testing.T) {
	svc := newTestService()
	_, p := newPatientInput("x@example.org")
	p.ID = uuid.New()
	if err := svc.UpdatePatient(context.Background(), p); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyMeasurements_StageChange(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u, p := newPatientInput("apply@example.org")
	p.LastEGFR = f64(65)
	if err := svc.CreatePatient(ctx, u, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	change, err := svc.ApplyMeasurements(ctx, p.ID, f64(28), nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if change.Previous != ckd.Stage2 || change.Current != ckd.Stage4 {
		t.Errorf("expected Stage 2 -> Stage 4, got %v -> %v", change.Previous, change.Current)
	}
	if !change.Changed() || !change.Worsened() {
		t.Error("expected a worsening change")
	}

	stored, _ := svc.GetPatient(ctx, p.ID)
	if stored.CKDStage != ckd.Stage4 || *stored.LastEGFR != 28 {
		t.Errorf("expected stored Stage 4 with eGFR 28, got %v %v", stored.CKDStage, *stored.LastEGFR)
	}
}

func TestApplyMeasurements_ACROnlyKeepsStage(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u, p := newPatientInput("acr@example.org")
	if err := svc.CreatePatient(ctx, u, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	change, err := svc.ApplyMeasurements(ctx, p.ID, nil, f64(120))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if change.Changed() {
		t.Errorf("stage should not change on ACR alone: %v -> %v", change.Previous, change.Current)
	}
	if change.Patient.ProteinuriaLevel != ckd.A2 {
		t.Errorf("expected A2, got %v", change.Patient.ProteinuriaLevel)
	}
}

func TestApplyMeasurements_Invalid(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.ApplyMeasurements(ctx, uuid.New(), nil, nil); err == nil {
		t.Error("expected error when no measurement is given")
	}
	nan := math.NaN()
	if _, err := svc.ApplyMeasurements(ctx, uuid.New(), &nan, nil); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := svc.ApplyMeasurements(ctx, uuid.New(), f64(50), nil); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPatients_Filters(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u1, p1 := newPatientInput("one@example.org")
	p1.LastEGFR = f64(10)
	u2, p2 := newPatientInput("two@example.org")
	u2.LastName = "Durand"
	svc.CreatePatient(ctx, u1, p1)
	svc.CreatePatient(ctx, u2, p2)

	items, total, err := svc.ListPatients(ctx, PatientFilter{Stage: ckd.Stage5}, 20, 0)
	if err != nil || total != 1 || items[0].ID != p1.ID {
		t.Errorf("expected only the Stage 5 patient, got %d (%v)", total, err)
	}
	items, total, _ = svc.ListPatients(ctx, PatientFilter{Name: "dur"}, 20, 0)
	if total != 1 || items[0].ID != p2.ID {
		t.Errorf("expected name search to find Durand, got %d", total)
	}
}

func TestDeletePatient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u, p := newPatientInput("del@example.org")
	svc.CreatePatient(ctx, u, p)
	if err := svc.DeletePatient(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetPatient(ctx, p.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := svc.GetUser(ctx, u.ID); err != ErrNotFound {
		t.Errorf("expected user to be removed, got %v", err)
	}
}

func TestCreateDoctor(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	u := &User{FirstName: "Karim", LastName: "Haddad", Email: "k.haddad@example.org"}
	d := &Doctor{Specialty: "Nephrology"}
	if err := svc.CreateDoctor(ctx, u, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Role != auth.RoleDoctor || d.UserID != u.ID {
		t.Errorf("unexpected doctor %+v user %+v", d, u)
	}
	if err := svc.CreateDoctor(ctx, &User{FirstName: "A", LastName: "B", Email: "ab@example.org"}, &Doctor{}); err == nil {
		t.Error("expected specialty to be required")
	}
}

func TestPatientAge(t *testing.T) {
	p := &Patient{BirthDate: time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC)}
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), 43},
		{time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), 44},
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 44},
		{time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 0},
	}
	for _, tt := range tests {
		if got := p.Age(tt.now); got != tt.want {
			t.Errorf("Age(%s) = %d, want %d", tt.now.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestStageChange_Worsened(t *testing.T) {
	if (&StageChange{Previous: ckd.Stage4, Current: ckd.Stage3A}).Worsened() {
		t.Error("improvement is not a worsening")
	}
	if (&StageChange{Previous: 0, Current: ckd.Stage5}).Worsened() {
		t.Error("first classification is not a worsening")
	}
}
