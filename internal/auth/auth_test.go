package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(true,
		Token{Subject: "sales-dashboard", Value: "read-token", Scopes: []string{ScopeSessionsRead}},
		Token{Subject: "marketing", Value: "admin-token", Scopes: []string{"*"}},
	)
	require.NoError(t, err)
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)

	subject, err := svc.AuthenticateRequest(t.Context(), "Bearer read-token")
	require.NoError(t, err)
	assert.Equal(t, "sales-dashboard", subject.Name)
	assert.True(t, subject.HasScope(ScopeSessionsRead))
	assert.False(t, subject.HasScope(ScopeTeamsRun))

	_, err = svc.AuthenticateRequest(t.Context(), "")
	assert.True(t, errors.Is(err, ErrMissingToken))
	_, err = svc.AuthenticateRequest(t.Context(), "Basic abc")
	assert.True(t, errors.Is(err, ErrInvalidToken))
	_, err = svc.AuthenticateRequest(t.Context(), "Bearer nope")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestMiddlewareStatuses(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	handler := svc.Middleware(ScopeTeamsRun)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer read-token", http.StatusForbidden},
		{"Bearer admin-token", http.StatusAccepted},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/teams/marketing/runs", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.header)
	}
	require.NotNil(t, seen)
	assert.Equal(t, "marketing", seen.Name)
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(false)
	require.NoError(t, err)
	handler := svc.Middleware(ScopeTeamsRun)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(true)
	require.Error(t, err)
	_, err = NewService(true, Token{Subject: "x"})
	require.Error(t, err)
	_, err = NewService(false, Token{Subject: "x"})
	require.NoError(t, err)
}
