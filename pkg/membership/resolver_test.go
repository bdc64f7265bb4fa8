package membership_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmstack/trustplane/internal/config"
	"github.com/tmstack/trustplane/pkg/membership"
)

// orgsStub plays the organization service: one canned body per request,
// recording the Authorization header it saw.
type orgsStub struct {
	srv      *httptest.Server
	body     atomic.Value // string
	status   atomic.Int64
	lastAuth atomic.Value // string
	hits     atomic.Int64
}

func newOrgsStub(t *testing.T, body string) *orgsStub {
	t.Helper()
	s := &orgsStub{}
	s.body.Store(body)
	s.status.Store(http.StatusOK)
	s.lastAuth.Store("")
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(int(s.status.Load()))
		fmt.Fprint(w, s.body.Load().(string))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestRolesListShape(t *testing.T) {
	stub := newOrgsStub(t, `[
		{"tenant": "t1", "role_key": "admin"},
		{"tenant": "t1", "role_key": "member"},
		{"tenant": "t2", "role_key": "owner"}
	]`)
	r := membership.NewResolver(stub.srv.URL, nil)

	set := r.Roles(context.Background(), "t1", "u1")
	if !set.Has("admin") || !set.Has("member") {
		t.Fatalf("want admin+member, got %v", set)
	}
	if set.Has("owner") {
		t.Fatal("rows from other tenants must be discarded")
	}
}

func TestRolesEnvelopeShape(t *testing.T) {
	stub := newOrgsStub(t, `{"count": 1, "results": [{"tenant": "t1", "role_key": "viewer"}]}`)
	r := membership.NewResolver(stub.srv.URL, nil)

	set := r.Roles(context.Background(), "t1", "u1")
	if !set.Has("viewer") || len(set) != 1 {
		t.Fatalf("want exactly viewer, got %v", set)
	}
}

func TestRolesNumericTenantField(t *testing.T) {
	stub := newOrgsStub(t, `[{"tenant": 42, "role_key": "admin"}]`)
	r := membership.NewResolver(stub.srv.URL, nil)

	if set := r.Roles(context.Background(), "42", "u1"); !set.Has("admin") {
		t.Fatalf("numeric tenant field must match its string form, got %v", set)
	}
}

func TestRolesFailuresResolveEmpty(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*orgsStub)
	}{
		{"server error", func(s *orgsStub) { s.status.Store(http.StatusInternalServerError) }},
		{"not json", func(s *orgsStub) { s.body.Store("<html>oops</html>") }},
		{"envelope without results or count", func(s *orgsStub) { s.body.Store(`{"detail": "ok"}`) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := newOrgsStub(t, `[]`)
			tc.setup(stub)
			r := membership.NewResolver(stub.srv.URL, nil)

			if set := r.Roles(context.Background(), "t1", "u1"); !set.Empty() {
				t.Fatalf("failure must resolve to no roles, got %v", set)
			}
		})
	}
}

func TestRolesUnreachableServiceResolvesEmpty(t *testing.T) {
	r := membership.NewResolver("http://127.0.0.1:1", &http.Client{Timeout: 200 * time.Millisecond})
	if set := r.Roles(context.Background(), "t1", "u1"); !set.Empty() {
		t.Fatalf("unreachable service must resolve to no roles, got %v", set)
	}
}

func TestRolesMissingIdentifiers(t *testing.T) {
	stub := newOrgsStub(t, `[{"tenant": "t1", "role_key": "admin"}]`)
	r := membership.NewResolver(stub.srv.URL, nil)

	if set := r.Roles(context.Background(), "", "u1"); !set.Empty() {
		t.Fatal("missing tenant must short-circuit to no roles")
	}
	if set := r.Roles(context.Background(), "t1", ""); !set.Empty() {
		t.Fatal("missing user must short-circuit to no roles")
	}
	if n := stub.hits.Load(); n != 0 {
		t.Fatalf("no lookup should have gone out, got %d", n)
	}
}

func TestRolesCachesSuccessesOnly(t *testing.T) {
	stub := newOrgsStub(t, `[{"tenant": "t1", "role_key": "admin"}]`)
	r := membership.NewResolver(stub.srv.URL, nil).WithCacheTTL(time.Minute)

	for i := 0; i < 3; i++ {
		if set := r.Roles(context.Background(), "t1", "u1"); !set.Has("admin") {
			t.Fatalf("lookup %d: %v", i, set)
		}
	}
	if n := stub.hits.Load(); n != 1 {
		t.Fatalf("want 1 upstream hit with warm cache, got %d", n)
	}

	// Failures must not be cached: the next call retries upstream.
	stub.status.Store(http.StatusBadGateway)
	if set := r.Roles(context.Background(), "t1", "u2"); !set.Empty() {
		t.Fatalf("want empty on failure, got %v", set)
	}
	before := stub.hits.Load()
	_ = r.Roles(context.Background(), "t1", "u2")
	if stub.hits.Load() != before+1 {
		t.Fatal("failed lookups must not be served from cache")
	}
}

func TestAuthorizationPreferenceChain(t *testing.T) {
	stub := newOrgsStub(t, `[]`)

	// Issued token wins when a source is configured and healthy.
	r := membership.NewResolver(stub.srv.URL, nil)
	r.Tokens = tokenSourceFunc(func(ctx context.Context, aud, sub string) (string, error) {
		return "issued-token", nil
	})
	r.JWTSecret = "sym"
	r.SharedSecret = "raw"
	r.Roles(context.Background(), "t1", "u1")
	if got := stub.lastAuth.Load().(string); got != "ServiceBearer issued-token" {
		t.Fatalf("want issued token, got %q", got)
	}

	// Issuance failure falls through to the self-signed HS256 token.
	r.Tokens = tokenSourceFunc(func(ctx context.Context, aud, sub string) (string, error) {
		return "", fmt.Errorf("issuer down")
	})
	r.Roles(context.Background(), "t1", "u2")
	if got := stub.lastAuth.Load().(string); !strings.HasPrefix(got, "ServiceBearer ") || got == "ServiceBearer issued-token" {
		t.Fatalf("want self-signed bearer, got %q", got)
	}

	// With nothing else, the raw shared secret goes out.
	r.Tokens = nil
	r.JWTSecret = ""
	r.Roles(context.Background(), "t1", "u3")
	if got := stub.lastAuth.Load().(string); got != "Service raw" {
		t.Fatalf("want shared secret, got %q", got)
	}
}

type tokenSourceFunc func(ctx context.Context, aud, sub string) (string, error)

func (f tokenSourceFunc) ServiceToken(ctx context.Context, aud, sub string) (string, error) {
	return f(ctx, aud, sub)
}

func TestProjectRolesSeparateFromTenantRoles(t *testing.T) {
	stub := newOrgsStub(t, `[{"tenant": "t1", "role_key": "reviewer"}]`)
	r := membership.NewResolver(stub.srv.URL, nil)

	set := r.ProjectRoles(context.Background(), "t1", "u1", "p1")
	if !set.Has("reviewer") {
		t.Fatalf("want reviewer, got %v", set)
	}
	if set := r.ProjectRoles(context.Background(), "t1", "u1", ""); !set.Empty() {
		t.Fatal("missing project id must short-circuit")
	}
}

func TestRemoteTokenSource(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/service/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"token": "signed-tok"}`)
	}))
	defer srv.Close()

	ts := membership.NewRemoteTokenSource(srv.URL, "op-secret", nil)
	tok, err := ts.ServiceToken(context.Background(), "orgs", "tms")
	if err != nil {
		t.Fatalf("service token: %v", err)
	}
	if tok != "signed-tok" {
		t.Fatalf("token: got %q", tok)
	}
	if gotAuth != "Service op-secret" {
		t.Fatalf("auth header: got %q", gotAuth)
	}
}

func TestRemoteTokenSourceEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token": ""}`)
	}))
	defer srv.Close()

	ts := membership.NewRemoteTokenSource(srv.URL, "op-secret", nil)
	if _, err := ts.ServiceToken(context.Background(), "orgs", "tms"); err == nil {
		t.Fatal("empty token must be an error")
	}
}

func TestNewResolverFromConfig(t *testing.T) {
	t.Setenv("ORGS_BASE_URL", "http://orgs:8000/api/")
	t.Setenv("AUTH_BASE_URL", "http://auth:8000/api")
	t.Setenv("SERVICES_SHARED_TOKEN", "op-secret")
	t.Setenv("SERVICES_JWT_SECRET", "hs-secret")
	t.Setenv("MEMBERSHIP_CACHE_TTL", "45s")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	r := membership.NewResolverFromConfig(cfg)
	if r.BaseURL != "http://orgs:8000/api" {
		t.Fatalf("base url must lose the trailing slash: %q", r.BaseURL)
	}
	if r.JWTSecret != "hs-secret" || r.SharedSecret != "op-secret" {
		t.Fatalf("fallback credentials not carried: %+v", r)
	}
	if r.Issuer != "auth" || r.Audience != "orgs" || r.Subject != "tms" {
		t.Fatalf("token labels: iss=%q aud=%q sub=%q", r.Issuer, r.Audience, r.Subject)
	}
	if r.HTTP.Timeout != 3*time.Second {
		t.Fatalf("orgs client timeout: %v", r.HTTP.Timeout)
	}

	ts, ok := r.Tokens.(*membership.RemoteTokenSource)
	if !ok {
		t.Fatalf("auth base url configured, want a remote token source, got %T", r.Tokens)
	}
	if ts.BaseURL != "http://auth:8000/api" || ts.Secret != "op-secret" {
		t.Fatalf("token source wiring: %+v", ts)
	}
}

func TestNewResolverFromConfigWithoutAuthService(t *testing.T) {
	t.Setenv("ORGS_BASE_URL", "http://orgs:8000/api")
	t.Setenv("AUTH_BASE_URL", "")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	r := membership.NewResolverFromConfig(cfg)
	if r.Tokens != nil {
		t.Fatal("no auth base url, want no token source")
	}
}
