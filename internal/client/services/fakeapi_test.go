package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/donorsync/internal/client/client"
	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/client/query"
	"github.com/dmitrijs2005/donorsync/internal/client/repositories/tokens"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// ---- fake API ----

type fakeAPI struct {
	mu       sync.Mutex
	secret   []byte
	issued   int
	users    map[string]models.Credentials
	access   map[string]bool
	refresh  map[string]bool
	hits     map[string]int
	profile  models.Profile
	donors   []models.Donor
	patients map[string]*models.Patient
	research []models.ResearchRecord

	accessTTL    time.Duration
	failRefresh  bool
	refreshDelay time.Duration
	refreshCalls atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		secret:    []byte("test-secret"),
		users:     map[string]models.Credentials{"ann@example.com": {Email: "ann@example.com", Password: "pw"}},
		access:    map[string]bool{},
		refresh:   map[string]bool{},
		hits:      map[string]int{},
		accessTTL: time.Hour,
		profile:   models.Profile{ID: "u1", Email: "ann@example.com", FirstName: "Ann", BloodType: "A+"},
		donors:    []models.Donor{{ID: "d1", UserID: "u2", BloodType: "O-", City: "Riga", Eligible: true}},
		patients: map[string]*models.Patient{
			"p1": {ID: "p1", Name: "Bob", BloodType: "B+", Hospital: "City"},
		},
		research: []models.ResearchRecord{{ID: "r1", StudyID: "s1", Title: "Iron levels", Status: models.ResearchWithdrawn}},
	}
}

func (f *fakeAPI) hit(name string) {
	f.mu.Lock()
	f.hits[name]++
	f.mu.Unlock()
}

func (f *fakeAPI) hitCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[name]
}

// signAccess signs an HS256 access token that expires after ttl.
func signAccess(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}).SignedString(secret)
}

// issue mints a new pair. f.mu must be held.
func (f *fakeAPI) issue() models.TokenPair {
	f.issued++
	access, err := signAccess(fmt.Sprintf("u1-%d", f.issued), f.secret, f.accessTTL)
	if err != nil {
		panic(err)
	}
	pair := models.TokenPair{AccessToken: access, RefreshToken: fmt.Sprintf("refresh-%d", f.issued)}
	f.access[pair.AccessToken] = true
	f.refresh[pair.RefreshToken] = true
	return pair
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// revokeAccess makes every issued access token be rejected, as if expired.
func (f *fakeAPI) revokeAccess() {
	f.mu.Lock()
	f.access = map[string]bool{}
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) authorized(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	ok := f.access[token]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
	}
	return ok
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /auth/local/login", func(w http.ResponseWriter, r *http.Request) {
		f.hit("login")
		var c models.Credentials
		_ = json.NewDecoder(r.Body).Decode(&c)

		f.mu.Lock()
		defer f.mu.Unlock()
		u, ok := f.users[c.Email]
		if !ok || u.Password != c.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, f.issue())
	})

	mux.HandleFunc("POST /auth/local/register", func(w http.ResponseWriter, r *http.Request) {
		f.hit("register")
		var c models.Credentials
		_ = json.NewDecoder(r.Body).Decode(&c)

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.users[c.Email]; exists {
			writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]string{"message": "email taken"}})
			return
		}
		f.users[c.Email] = c
		writeJSON(w, http.StatusCreated, map[string]any{"data": f.issue()})
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		f.mu.Lock()
		delay := f.refreshDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failRefresh || !f.refresh[body.RefreshToken] {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh rejected"})
			return
		}
		delete(f.refresh, body.RefreshToken)
		writeJSON(w, http.StatusOK, f.issue())
	})

	mux.HandleFunc("GET /api/profile", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.hit("profile")
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.profile)
	})

	mux.HandleFunc("PUT /api/profile", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var upd models.ProfileUpdate
		_ = json.NewDecoder(r.Body).Decode(&upd)
		f.mu.Lock()
		defer f.mu.Unlock()
		if upd.City != "" {
			f.profile.City = upd.City
		}
		if upd.Phone != "" {
			f.profile.Phone = upd.Phone
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": f.profile})
	})

	mux.HandleFunc("GET /api/donors", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.hit("donors")
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"data": f.donors,
			"meta": models.Meta{Page: 1, PageSize: 20, Total: len(f.donors)},
		})
	})

	mux.HandleFunc("GET /api/donors/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, d := range f.donors {
			if d.ID == r.PathValue("id") {
				writeJSON(w, http.StatusOK, d)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "donor not found"})
	})

	mux.HandleFunc("POST /api/donors", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var app models.DonorApplication
		_ = json.NewDecoder(r.Body).Decode(&app)
		f.mu.Lock()
		defer f.mu.Unlock()
		d := models.Donor{ID: fmt.Sprintf("d%d", len(f.donors)+1), UserID: f.profile.ID, BloodType: app.BloodType, City: app.City, Eligible: true}
		f.donors = append(f.donors, d)
		f.profile.BloodType = app.BloodType
		writeJSON(w, http.StatusCreated, d)
	})

	mux.HandleFunc("GET /api/patients", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.hit("patients")
		f.mu.Lock()
		defer f.mu.Unlock()
		out := make([]models.Patient, 0, len(f.patients))
		for _, p := range f.patients {
			out = append(out, *p)
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/patients/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.hit("patient")
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.patients[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "patient not found"})
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("POST /api/patients/{id}/requests", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var nr models.NewDonationRequest
		_ = json.NewDecoder(r.Body).Decode(&nr)
		f.mu.Lock()
		defer f.mu.Unlock()
		p, ok := f.patients[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "patient not found"})
			return
		}
		dr := models.DonationRequest{
			ID:        fmt.Sprintf("req%d", len(p.Requests)+1),
			PatientID: p.ID,
			BloodType: nr.BloodType,
			Units:     nr.Units,
			Status:    models.RequestPending,
			CreatedAt: time.Now().UTC(),
		}
		p.Requests = append(p.Requests, dr)
		writeJSON(w, http.StatusCreated, dr)
	})

	mux.HandleFunc("PUT /api/requests/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var upd models.StatusUpdate
		_ = json.NewDecoder(r.Body).Decode(&upd)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range f.patients {
			for i := range p.Requests {
				if p.Requests[i].ID == r.PathValue("id") {
					p.Requests[i].Status = upd.Status
					p.Requests[i].StatusUpdates = append(p.Requests[i].StatusUpdates, upd)
					writeJSON(w, http.StatusOK, p.Requests[i])
					return
				}
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "request not found"})
	})

	mux.HandleFunc("GET /api/research", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.hit("research")
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.research)
	})

	mux.HandleFunc("POST /api/research/{study}/{action}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		status := models.ResearchEnrolled
		if r.PathValue("action") == "withdraw" {
			status = models.ResearchWithdrawn
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.research {
			if f.research[i].StudyID == r.PathValue("study") {
				f.research[i].Status = status
				writeJSON(w, http.StatusOK, f.research[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "study not found"})
	})

	return mux
}

// ---- wired client ----

type testEnv struct {
	api   *fakeAPI
	exec  *client.HTTPClient
	store *tokens.TokenStore
	sm    *SessionManager
	cache *query.Cache
}

func newTestEnv(t *testing.T, opts ...SessionOption) *testEnv {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	store := tokens.NewTokenStore(tokens.NewMemorySlot())
	exec, err := client.NewHTTPClient(srv.URL, store, client.Options{Timeout: 2 * time.Second})
	require.NoError(t, err)

	sm := NewSessionManager(exec, store, opts...)
	exec.SetRefresher(sm)

	cache := query.New(query.Options{Session: sm})
	t.Cleanup(BindCache(sm, cache))

	return &testEnv{api: api, exec: exec, store: store, sm: sm, cache: cache}
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	require.NoError(t, e.sm.Login(context.Background(), models.Credentials{Email: "ann@example.com", Password: "pw"}))
}

func newMemStore() *tokens.TokenStore {
	return tokens.NewTokenStore(tokens.NewMemorySlot())
}

// scriptedExec answers every request with the same body.
type scriptedExec struct {
	mu         sync.Mutex
	body       string
	err        error
	lastMethod string
	lastPath   string
	lastBody   any
	calls      int
}

func (s *scriptedExec) Execute(_ context.Context, req client.Request) (*client.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastMethod, s.lastPath, s.lastBody = req.Method, req.Path, req.Body
	if s.err != nil {
		return nil, s.err
	}
	return &client.Response{StatusCode: http.StatusOK, Body: []byte(s.body)}, nil
}
