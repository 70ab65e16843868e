package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestAuth(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	subjectOnly := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"},
	})
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), Claims{UserID: "user-1"})

	tests := []struct {
		name       string
		cfg        AuthConfig
		path       string
		header     map[string]string
		wantStatus int
		wantUser   string
	}{
		{
			name:       "bearer token",
			cfg:        AuthConfig{JWTSecret: testSecret},
			header:     map[string]string{"Authorization": "Bearer " + valid},
			wantStatus: http.StatusOK,
			wantUser:   "user-1",
		},
		{
			name:       "subject claim",
			cfg:        AuthConfig{JWTSecret: testSecret},
			header:     map[string]string{"Authorization": "Bearer " + subjectOnly},
			wantStatus: http.StatusOK,
			wantUser:   "user-2",
		},
		{
			name:       "query token",
			cfg:        AuthConfig{JWTSecret: testSecret},
			path:       "/api/imports/1/events?access_token=" + valid,
			wantStatus: http.StatusOK,
			wantUser:   "user-1",
		},
		{
			name:       "expired token",
			cfg:        AuthConfig{JWTSecret: testSecret},
			header:     map[string]string{"Authorization": "Bearer " + expired},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key",
			cfg:        AuthConfig{JWTSecret: testSecret},
			header:     map[string]string{"Authorization": "Bearer " + wrongKey},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "header allowed",
			cfg:        AuthConfig{AllowHeader: true},
			header:     map[string]string{"X-User-ID": "dev"},
			wantStatus: http.StatusOK,
			wantUser:   "dev",
		},
		{
			name:       "header not allowed",
			cfg:        AuthConfig{JWTSecret: testSecret},
			header:     map[string]string{"X-User-ID": "dev"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "public path",
			cfg:        AuthConfig{JWTSecret: testSecret, Public: []string{"/health"}},
			path:       "/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			h := Auth(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = CurrentUserID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			path := tt.path
			if path == "" {
				path = "/api/imports"
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %q, want %q", gotUser, tt.wantUser)
			}
		})
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS512, []byte(testSecret), Claims{UserID: "user-1"})
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Error("expected HS512 token to be rejected")
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-42" || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("request id = %q, header %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-42" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
