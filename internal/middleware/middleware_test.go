package middleware

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/handler"
	"github.com/jwalitptl/hospital-api/internal/model"
	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
	"github.com/jwalitptl/hospital-api/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_StoresRequestInfo(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())

	var info httputil.RequestInfo
	r.GET("/ping", func(c *gin.Context) {
		info, _ = httputil.RequestInfoFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set(HeaderXRequestID, "req-1")
	w := serve(r, req)

	assert.Equal(t, "req-1", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "req-1", info.RequestID)
	assert.Equal(t, "test-agent", info.UserAgent)
	assert.Equal(t, "/ping", info.Path)
	assert.NotEmpty(t, info.IP)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err)
}

type stubAuthenticator struct {
	principal *model.Principal
	err       error
}

func (s stubAuthenticator) Authenticate(context.Context, string) (*model.Principal, error) {
	return s.principal, s.err
}

func TestAuthenticate(t *testing.T) {
	principal := &model.Principal{AccountID: uuid.New(), Role: model.RoleNurse}

	tests := []struct {
		name   string
		header string
		auth   stubAuthenticator
		status int
	}{
		{"missing header", "", stubAuthenticator{principal: principal}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubAuthenticator{principal: principal}, http.StatusUnauthorized},
		{"rejected token", "Bearer abc", stubAuthenticator{err: apperrors.Unauthorized(errors.New("expired"))}, http.StatusUnauthorized},
		{"inactive account", "Bearer abc", stubAuthenticator{err: apperrors.AccountInactive()}, http.StatusForbidden},
		{"valid token", "Bearer abc", stubAuthenticator{principal: principal}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			var got *model.Principal
			r.GET("/me", NewAuthMiddleware(tt.auth).Authenticate(), func(c *gin.Context) {
				got = handler.CurrentPrincipal(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, principal, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	policy := ratelimit.Policy{Name: "login", Limit: 2, Window: 15 * time.Minute, Block: 15 * time.Minute}
	r := gin.New()
	r.POST("/login", RateLimit(ratelimit.NewMemoryLimiter(), policy, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(r, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, ratelimit.Policy, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(failingLimiter{}, ratelimit.Policy{Name: "general", Limit: 1, Window: time.Minute}, nil),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://app.hospital.example"})))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.hospital.example")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.hospital.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig(true)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxHeaderSize: 1 << 10}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", http.NoBody)
	req.ContentLength = 9
	w := serve(r, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCompress(t *testing.T) {
	r := gin.New()
	r.GET("/export", Compress(gzip.BestSpeed), func(c *gin.Context) {
		c.String(http.StatusOK, "id,action\n1,LOGIN_SUCCESS\n")
	})

	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := serve(r, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "id,action\n1,LOGIN_SUCCESS\n", string(body))
}

func TestRegisterValidators(t *testing.T) {
	v := validator.New()
	require.NoError(t, registerValidators(v))

	type request struct {
		CPF   string `json:"cpf" validate:"required,cpf"`
		Phone string `json:"phone" validate:"omitempty,br_phone"`
		State string `json:"state" validate:"omitempty,uf"`
		Zip   string `json:"zip_code" validate:"omitempty,br_zip"`
	}

	assert.NoError(t, v.Struct(request{CPF: "529.982.247-25", Phone: "(11) 98765-4321", State: "SP", Zip: "01310-100"}))

	err := v.Struct(request{CPF: "123.456.789-00", State: "XX"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	assert.ElementsMatch(t, []string{"cpf", "state"}, fields)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"internal server error"`)
}
