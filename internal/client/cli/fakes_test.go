package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/donorsync/internal/client/guard"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/repositories/tokens"
	"github.com/dmitrijs2005/donorsync/internal/client/services"
)

type fakeSession struct {
	mu     sync.Mutex
	status models.SessionStatus
	epoch  uint64

	loginCreds  models.Credentials
	loginErr    error
	regCreds    models.Credentials
	regErr      error
	refreshErr  error
	refreshes   int
	logouts     int
	restoreErr  error
	restoreWith models.SessionStatus
}

var _ services.SessionService = (*fakeSession)(nil)

func newFakeSession(st models.SessionStatus) *fakeSession {
	return &fakeSession{status: st}
}

func (f *fakeSession) set(st models.SessionStatus) {
	f.mu.Lock()
	f.status = st
	f.epoch++
	f.mu.Unlock()
}

func (f *fakeSession) Login(_ context.Context, c models.Credentials) error {
	f.loginCreds = c
	if f.loginErr != nil {
		return f.loginErr
	}
	f.set(models.StatusAuthenticated)
	return nil
}

func (f *fakeSession) Register(_ context.Context, c models.Credentials) error {
	f.regCreds = c
	if f.regErr != nil {
		return f.regErr
	}
	f.set(models.StatusAuthenticated)
	return nil
}

func (f *fakeSession) Refresh(context.Context) error {
	f.refreshes++
	if f.refreshErr != nil {
		f.set(models.StatusExpired)
		return f.refreshErr
	}
	f.set(models.StatusAuthenticated)
	return nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.logouts++
	f.set(models.StatusAnonymous)
	return nil
}

func (f *fakeSession) Restore(context.Context) error {
	if f.restoreWith != "" {
		f.set(f.restoreWith)
	}
	return f.restoreErr
}

func (f *fakeSession) Status() models.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Session() models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.Session{Status: f.status, Epoch: f.epoch}
}

func (f *fakeSession) Epoch() uint64 { return f.Session().Epoch }

func (f *fakeSession) Context() context.Context { return context.Background() }

func (f *fakeSession) Subscribe(func(models.Session)) func() { return func() {} }

type fakeProfile struct {
	profile    models.Profile
	refreshing bool
	err        error
	updated    models.ProfileUpdate
}

func (f *fakeProfile) Get(context.Context) (*models.Profile, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	p := f.profile
	return &p, f.refreshing, nil
}

func (f *fakeProfile) Update(_ context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	f.updated = upd
	if upd.City != "" {
		f.profile.City = upd.City
	}
	p := f.profile
	return &p, f.err
}

type fakeDonors struct {
	list    []models.Donor
	applied models.DonorApplication
	err     error
}

func (f *fakeDonors) List(context.Context) ([]models.Donor, bool, error) { return f.list, false, f.err }
func (f *fakeDonors) Get(_ context.Context, id string) (*models.Donor, bool, error) {
	for _, d := range f.list {
		if d.ID == id {
			return &d, false, nil
		}
	}
	return nil, false, f.err
}
func (f *fakeDonors) Register(_ context.Context, app models.DonorApplication) (*models.Donor, error) {
	f.applied = app
	if f.err != nil {
		return nil, f.err
	}
	return &models.Donor{ID: "d9", BloodType: app.BloodType, City: app.City}, nil
}

type fakePatients struct {
	patient  models.Patient
	opened   models.NewDonationRequest
	openedID string
	update   models.StatusUpdate
	updateID string
	err      error
}

func (f *fakePatients) List(context.Context) ([]models.Patient, bool, error) {
	return []models.Patient{f.patient}, false, f.err
}
func (f *fakePatients) Get(context.Context, string) (*models.Patient, bool, error) {
	p := f.patient
	return &p, false, f.err
}
func (f *fakePatients) OpenRequest(_ context.Context, id string, r models.NewDonationRequest) (*models.DonationRequest, error) {
	f.openedID, f.opened = id, r
	if f.err != nil {
		return nil, f.err
	}
	return &models.DonationRequest{ID: "req1", PatientID: id, BloodType: r.BloodType, Units: r.Units, Status: models.RequestPending}, nil
}
func (f *fakePatients) UpdateRequestStatus(_ context.Context, id string, upd models.StatusUpdate) (*models.DonationRequest, error) {
	f.updateID, f.update = id, upd
	if f.err != nil {
		return nil, f.err
	}
	return &models.DonationRequest{ID: id, Status: upd.Status}, nil
}

type fakeResearch struct {
	list     []models.ResearchRecord
	enrolled string
	withdrew string
	err      error
}

func (f *fakeResearch) List(context.Context) ([]models.ResearchRecord, bool, error) {
	return f.list, false, f.err
}
func (f *fakeResearch) Enroll(_ context.Context, id string) (*models.ResearchRecord, error) {
	f.enrolled = id
	return &models.ResearchRecord{StudyID: id, Status: models.ResearchEnrolled}, f.err
}
func (f *fakeResearch) Withdraw(_ context.Context, id string) (*models.ResearchRecord, error) {
	f.withdrew = id
	return &models.ResearchRecord{StudyID: id, Status: models.ResearchWithdrawn}, f.err
}

type fakePinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePinger) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type testApp struct {
	*App
	session  *fakeSession
	profile  *fakeProfile
	donors   *fakeDonors
	patients *fakePatients
	research *fakeResearch
	out      *bytes.Buffer
}

func newTestApp(t *testing.T, st models.SessionStatus, input ...string) *testApp {
	t.Helper()
	ta := &testApp{
		session:  newFakeSession(st),
		profile:  &fakeProfile{profile: models.Profile{Email: "ann@example.com", FirstName: "Ann", LastName: "Lee", BloodType: "A+"}},
		donors:   &fakeDonors{list: []models.Donor{{ID: "d1", BloodType: "O-", City: "Riga", Eligible: true}}},
		patients: &fakePatients{patient: models.Patient{ID: "p1", Name: "Bob", BloodType: "B+", Hospital: "City"}},
		research: &fakeResearch{list: []models.ResearchRecord{{StudyID: "s1", Title: "Iron levels", Status: models.ResearchWithdrawn}}},
		out:      &bytes.Buffer{},
	}
	ta.App = &App{
		session:  ta.session,
		tokens:   tokens.NewTokenStore(tokens.NewMemorySlot()),
		profile:  ta.profile,
		donors:   ta.donors,
		patients: ta.patients,
		research: ta.research,
		dashboard: &services.DashboardService{
			Profile: ta.profile, Donors: ta.donors, Research: ta.research,
		},
		policy: guard.DefaultPolicy(),
		reader: bufio.NewReader(strings.NewReader(strings.Join(input, "\n") + "\n")),
		out:    ta.out,
	}
	return ta
}

// capturePrintln collects REPL output lines.
func capturePrintln(t *testing.T) *[]string {
	t.Helper()
	var mu sync.Mutex
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		parts := make([]string, len(a))
		for i, v := range a {
			parts[i] = fmt.Sprint(v)
		}
		lines = append(lines, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func stubInputs(t *testing.T, password string) {
	t.Helper()
	origGP := getPassword
	getPassword = func(_ io.Writer) ([]byte, error) { return []byte(password), nil }
	t.Cleanup(func() { getPassword = origGP })
}
