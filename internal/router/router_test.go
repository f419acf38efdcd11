package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apptHandler "github.com/jwalitptl/hospital-api/internal/handler/appointment"
	auditHandler "github.com/jwalitptl/hospital-api/internal/handler/audit"
	authHandler "github.com/jwalitptl/hospital-api/internal/handler/auth"
	"github.com/jwalitptl/hospital-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/hospital-api/internal/handler/patient"
	professionalHandler "github.com/jwalitptl/hospital-api/internal/handler/professional"
	"github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	"github.com/jwalitptl/hospital-api/internal/middleware"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	"github.com/jwalitptl/hospital-api/internal/service/appointment"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	"github.com/jwalitptl/hospital-api/internal/service/auditlog"
	authsvc "github.com/jwalitptl/hospital-api/internal/service/auth"
	"github.com/jwalitptl/hospital-api/internal/service/patient"
	"github.com/jwalitptl/hospital-api/internal/service/professional"
	"github.com/jwalitptl/hospital-api/pkg/auth"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/ratelimit"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

type server struct {
	t      *testing.T
	store  *memory.Store
	clock  *clock
	engine *gin.Engine
}

func newServer(t *testing.T, policies Policies) *server {
	t.Helper()

	store := memory.NewStore()
	clk := &clock{now: time.Now().UTC()}
	hasher := security.NewBcryptHasher(bcrypt.MinCost)
	tokens, err := auth.NewTokenManager(auth.Config{
		Secret:   strings.Repeat("s", 32),
		Issuer:   "hospital-api",
		Audience: "hospital-api",
		Expiry:   time.Hour,
	})
	require.NoError(t, err)

	registry := promclient.NewRegistry()
	m := metrics.NewMetrics(registry, "hospital")
	recorder := audit.NewService(store.Audit(), audit.WithMetrics(m))
	evaluator := access.NewEvaluator(recorder, access.NewLinkResolver(store.Patients(), store.Professionals(), time.Minute), m)

	authService := authsvc.NewService(store.Accounts(), store.Patients(), store.Professionals(), hasher, tokens, recorder,
		authsvc.Config{MaxLoginAttempts: 5, LockoutDuration: 15 * time.Minute},
		authsvc.WithClock(clk.Now), authsvc.WithMetrics(m))

	r, err := NewRouter(RouterConfig{Policies: policies}, Dependencies{
		Auth:    middleware.NewAuthMiddleware(authService),
		Limiter: ratelimit.NewMemoryLimiter(),
		Metrics: m,
		Prom:    prometheus.New(registry, "hospital"),
		Health:  health.NewHandler(map[string]health.Pinger{"database": okPinger{}}),
		Handlers: []Handler{
			authHandler.NewHandler(authService),
			patientHandler.NewHandler(patient.NewService(store.Patients(), hasher, evaluator, recorder)),
			professionalHandler.NewHandler(professional.NewService(store.Professionals(), store.Appointments(), hasher, evaluator, recorder)),
			apptHandler.NewHandler(appointment.NewService(store.Appointments(), store.Patients(), store.Professionals(), evaluator, recorder)),
			auditHandler.NewHandler(auditlog.NewService(store.Audit(), store.Accounts(), evaluator, recorder)),
		},
	})
	require.NoError(t, err)

	return &server{t: t, store: store, clock: clk, engine: r.Engine()}
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
	return env
}

func (s *server) register(email, cpf string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email":        email,
		"password":     "correct-horse-battery",
		"name":         "Ana Souza",
		"cpf":          cpf,
		"phone":        "(11) 98765-4321",
		"lgpd_consent": true,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
}

func (s *server) login(email, password string) (*httptest.ResponseRecorder, *model.LoginResponse) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	if w.Code != http.StatusOK {
		return w, nil
	}
	var resp model.LoginResponse
	decode(s.t, w, &resp)
	return w, &resp
}

func (s *server) admin() string {
	s.t.Helper()
	hash, err := security.NewBcryptHasher(bcrypt.MinCost).Hash("admin-password")
	require.NoError(s.t, err)
	require.NoError(s.t, s.store.Accounts().Create(context.Background(), &model.Account{
		Email:        "admin@hospital.example",
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		Active:       true,
	}))
	_, resp := s.login("admin@hospital.example", "admin-password")
	require.NotNil(s.t, resp)
	return resp.Token
}

func (s *server) entries(action model.AuditAction) []model.AuditEntry {
	var out []model.AuditEntry
	for _, e := range s.store.AuditEntries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func TestOwnRecordVisibleOtherPatientDenied(t *testing.T) {
	s := newServer(t, Policies{})

	s.register("a@x.com", "529.982.247-25")
	_, owner := s.login("a@x.com", "correct-horse-battery")
	require.NotNil(t, owner)
	require.NotNil(t, owner.Profile.Patient)
	patientID := owner.Profile.Patient.ID

	w := s.do(http.MethodGet, "/api/v1/patients/"+patientID.String(), owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var own model.Patient
	decode(t, w, &own)
	assert.Equal(t, "52998224725", own.CPF)
	require.NotNil(t, own.Phone)
	assert.Equal(t, "(11) 98765-4321", *own.Phone)

	s.register("c@x.com", "111.444.777-35")
	_, intruder := s.login("c@x.com", "correct-horse-battery")
	require.NotNil(t, intruder)

	before := len(s.store.AuditEntries())
	w = s.do(http.MethodGet, "/api/v1/patients/"+patientID.String(), intruder.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	env := decode(t, w, nil)
	assert.Equal(t, "error", env.Status)
	assert.NotContains(t, w.Body.String(), "ownership")

	after := s.store.AuditEntries()[before:]
	require.Len(t, after, 1)
	denial := after[0]
	assert.Equal(t, model.ActionUnauthorizedResourceAccess, denial.Action)
	assert.Equal(t, intruder.Profile.ID, *denial.ActorID)
	assert.Equal(t, patientID.String(), *denial.ResourceID)
	assert.Equal(t, "192.0.2.1", denial.IPAddress)
	assert.Equal(t, "router-test", denial.UserAgent)
	assert.False(t, denial.Success)

	adminToken := s.admin()
	w = s.do(http.MethodGet, "/api/v1/patients/"+patientID.String(), adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLockoutAndRecovery(t *testing.T) {
	s := newServer(t, Policies{})
	s.register("b@x.com", "529.982.247-25")

	for i := 0; i < 5; i++ {
		w, _ := s.login("b@x.com", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	require.Len(t, s.entries(model.ActionAccountLocked), 1)

	w, _ := s.login("b@x.com", "correct-horse-battery")
	assert.Equal(t, http.StatusLocked, w.Code)

	s.clock.Advance(15*time.Minute + time.Second)

	w, resp := s.login("b@x.com", "correct-horse-battery")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, resp)

	account, err := s.store.Accounts().GetByEmail(context.Background(), "b@x.com")
	require.NoError(t, err)
	assert.Zero(t, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
}

func TestLoginRateLimit(t *testing.T) {
	s := newServer(t, Policies{
		Login: ratelimit.Policy{Name: "login", Limit: 2, Window: 15 * time.Minute, Block: 15 * time.Minute},
	})

	for i := 0; i < 2; i++ {
		w, _ := s.login("nobody@x.com", "whatever-password")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w, _ := s.login("nobody@x.com", "whatever-password")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
}

func TestValidationErrorsListFields(t *testing.T) {
	s := newServer(t, Policies{})

	w := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"email":    "not-an-email",
		"password": "correct-horse-battery",
		"name":     "Ana Souza",
		"cpf":      "123.456.789-00",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	var fields []string
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"email", "cpf"}, fields)
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t, Policies{})

	w := s.do(http.MethodGet, "/api/v1/patients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/patients", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuditEndpoints(t *testing.T) {
	s := newServer(t, Policies{})
	s.register("a@x.com", "529.982.247-25")
	_, patientLogin := s.login("a@x.com", "correct-horse-battery")
	require.NotNil(t, patientLogin)
	adminToken := s.admin()

	w := s.do(http.MethodGet, "/api/v1/audit?action=LOGIN_SUCCESS", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Entries    []model.AuditEntry `json:"entries"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	decode(t, w, &list)
	assert.EqualValues(t, 2, list.Pagination.Total)
	for _, e := range list.Entries {
		assert.Equal(t, model.ActionLoginSuccess, e.Action)
	}

	w = s.do(http.MethodGet, "/api/v1/audit", patientLogin.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/audit/export?date_from=2024-01-01", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	today := s.clock.Now().Format("2006-01-02")
	w = s.do(http.MethodGet, "/api/v1/audit/export?format=csv&date_from=2000-01-01&date_to="+today, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,created_at,actor_id,action"))
	assert.Contains(t, w.Body.String(), "REGISTER_SUCCESS")
	assert.Len(t, s.entries(model.ActionAuditLogsExported), 1)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, Policies{})

	w := s.do(http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"UP"`)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hospital_http_requests_total")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
