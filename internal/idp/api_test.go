package idp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dhawalhost/riskgate/internal/behavior"
)

func newIdpRouter(t *testing.T, store behavior.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := newFakeProvider(t)
	handler := NewHTTPHandler(p.client, store, nil, zap.NewNop())
	r := gin.New()
	handler.RegisterRoutes(r.Group("/v1"))
	return r
}

func TestLoginRedirectsToProvider(t *testing.T) {
	r := newIdpRouter(t, behavior.NewMemoryStore(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.Code)
	}
	loc := resp.Header().Get("Location")
	if !strings.Contains(loc, "/protocol/openid-connect/auth") {
		t.Fatalf("expected provider auth URL, got %s", loc)
	}
	if !strings.Contains(loc, "state=") {
		t.Fatal("expected state parameter in auth URL")
	}
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	r := newIdpRouter(t, behavior.NewMemoryStore(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "genuine"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCallbackRecordsLogin(t *testing.T) {
	store := behavior.NewMemoryStore(nil)
	r := newIdpRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?code=abc&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	rec, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if rec.LoginCount != 1 {
		t.Fatalf("expected login recorded, got %+v", rec)
	}
}

func TestReportAttemptUpdatesCounters(t *testing.T) {
	store := behavior.NewMemoryStore(nil)
	r := newIdpRouter(t, store)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/attempts", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp.Code
	}

	for i := 0; i < 3; i++ {
		if code := post(`{"subject":"bob","success":false}`); code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", code)
		}
	}
	rec, _ := store.Get(context.Background(), "bob")
	if rec.FailedAttemptCount != 3 {
		t.Fatalf("expected 3 failed attempts, got %+v", rec)
	}

	if code := post(`{"subject":"bob","success":true}`); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	rec, _ = store.Get(context.Background(), "bob")
	if rec.FailedAttemptCount != 0 || rec.LoginCount != 1 {
		t.Fatalf("success must reset failures, got %+v", rec)
	}
}

func TestReportAttemptRequiresSubject(t *testing.T) {
	r := newIdpRouter(t, behavior.NewMemoryStore(nil))
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/attempts", strings.NewReader(`{"success":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
