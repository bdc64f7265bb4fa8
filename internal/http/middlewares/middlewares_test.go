package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tmstack/trustplane/internal/http/middlewares"
	"github.com/tmstack/trustplane/pkg/serviceauth"
)

func TestWithRequestIDGenerates(t *testing.T) {
	var seen string
	h := middlewares.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middlewares.GetRequestID(r.Context())
	}), middlewares.WithRequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("request id missing from context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q != context id %q", got, seen)
	}
}

func TestWithRequestIDPropagatesInbound(t *testing.T) {
	var seen string
	h := middlewares.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middlewares.GetRequestID(r.Context())
	}), middlewares.WithRequestID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "upstream-id" {
		t.Fatalf("inbound id must be reused, got %q", seen)
	}
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mk := func(name string) middlewares.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				trace = append(trace, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := middlewares.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = append(trace, "handler")
	}), mk("a"), mk("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(trace) != 3 || trace[0] != "a" || trace[1] != "b" || trace[2] != "handler" {
		t.Fatalf("order: %v", trace)
	}
}

func TestRequireService(t *testing.T) {
	v := &serviceauth.Verifier{SharedSecret: "s3cret"}
	var principal string
	h := middlewares.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = middlewares.GetPrincipal(r.Context())
	}), middlewares.RequireService(v))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Service s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if principal != "service" {
		t.Fatalf("principal: %q", principal)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Service wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: want 401, got %d", rec.Code)
	}
}

func TestWithLoggingPreservesStatus(t *testing.T) {
	h := middlewares.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), middlewares.WithRequestID(), middlewares.WithLogging())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: %d", rec.Code)
	}
}
