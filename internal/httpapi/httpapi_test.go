package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"mailclerk/internal/activemap"
	"mailclerk/internal/auth"
	"mailclerk/internal/processor"
	"mailclerk/internal/promptqueue"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHandleHealthzAlwaysOK(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleReadyzReflectsPingFailure(t *testing.T) {
	s := &Server{Store: fakePinger{err: errors.New("db down")}}
	rec := httptest.NewRecorder()
	s.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleStatusRequiresAuth(t *testing.T) {
	s := &Server{
		ActiveMap: activemap.New(func(ctx context.Context, p *processor.Processor) {}),
		Queue:     promptqueue.New(),
		Auth:      auth.NewService("secret", "", ""),
	}
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestHandleStatusRejectsMissingScope(t *testing.T) {
	authSvc := auth.NewService("secret", "", "")
	s := &Server{
		ActiveMap: activemap.New(func(ctx context.Context, p *processor.Processor) {}),
		Queue:     promptqueue.New(),
		Auth:      authSvc,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1", "scope": "other:scope"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a token missing status:read, got %d", rec.Code)
	}
}

func TestHandleStatusReturnsQueueAndMapSummary(t *testing.T) {
	authSvc := auth.NewService("secret", "", "")
	s := &Server{
		ActiveMap: activemap.New(func(ctx context.Context, p *processor.Processor) {}),
		Queue:     promptqueue.New(),
		Auth:      authSvc,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1", "scope": "status:read"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
