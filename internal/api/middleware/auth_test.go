package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	users map[string]*models.User
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, credential string) (*models.User, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if u, ok := s.users[credential]; ok {
		return u, nil
	}
	return nil, apperr.Unauthenticated()
}

func newStub() (*stubResolver, *models.User) {
	user := &models.User{Base: models.Base{ID: uuid.New()}, Email: "test@example.com", Name: "Test"}
	return &stubResolver{users: map[string]*models.User{"good-token": user}}, user
}

func TestAuth_CredentialSources(t *testing.T) {
	tests := map[string]func(r *http.Request){
		"authorization header": func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
		"cookie":               func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: "good-token"}) },
		"x-auth-token":         func(r *http.Request) { r.Header.Set("X-Auth-Token", "good-token") },
	}

	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			resolver, user := newStub()
			handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, user.ID, GetUserID(r.Context()))
				assert.Equal(t, user.Email, GetUserEmail(r.Context()))
				assert.Same(t, user, GetUser(r.Context()))
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/api/v1/me", nil)
			setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestAuth_Rejections(t *testing.T) {
	tests := map[string]struct {
		setup    func(r *http.Request)
		resolved bool
	}{
		"no credential":     {setup: func(r *http.Request) {}, resolved: false},
		"empty bearer":      {setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") }, resolved: false},
		"basic auth":        {setup: func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") }, resolved: false},
		"unknown token":     {setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, resolved: true},
		"empty cookie":      {setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: ""}) }, resolved: false},
		"wrong cookie name": {setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "good-token"}) }, resolved: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resolver, _ := newStub()
			handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest("GET", "/api/v1/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthenticated","reason":"unauthenticated"}`, rec.Body.String())
			assert.Equal(t, tt.resolved, resolver.calls > 0)
		})
	}
}

func TestAuth_ResolverFailureLooksLikeBadCredential(t *testing.T) {
	resolver, _ := newStub()
	resolver.err = apperr.Internal(errors.New("verifier down"))

	handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "verifier")
}

func TestAuth_HeaderPrecedence(t *testing.T) {
	resolver, user := newStub()
	other := &models.User{Base: models.Base{ID: uuid.New()}, Email: "other@example.com"}
	resolver.users["cookie-token"] = other

	handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, user.ID, GetUserID(r.Context()))
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetUser(ctx))
	assert.Equal(t, uuid.Nil, GetUserID(ctx))
	assert.Empty(t, GetUserEmail(ctx))
}

func TestAuth_WithRealResolver(t *testing.T) {
	ts := testutil.NewTestContext(t)
	defer ts.Cleanup()

	resolver := auth.NewResolver(ts.DB, ts.JWTService, nil, nil, testutil.Logger())
	handler := Auth(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ts.User.ID, GetUserID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+ts.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(testutil.Logger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
