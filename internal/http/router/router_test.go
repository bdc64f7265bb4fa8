package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/tmstack/trustplane/internal/http/router"
	"github.com/tmstack/trustplane/internal/jwks"
	"github.com/tmstack/trustplane/internal/keys"
	"github.com/tmstack/trustplane/internal/keys/memory"
	"github.com/tmstack/trustplane/internal/token"
	"github.com/tmstack/trustplane/pkg/serviceauth"
)

const testSecret = "op-secret"

func newTestHandler(t *testing.T) (http.Handler, *keys.Store) {
	t.Helper()
	store := keys.NewStore(memory.New(), keys.StoreConfig{
		Grace:       15 * time.Minute,
		MinRetained: 2,
		Retention:   48 * time.Hour,
		CacheGrace:  5 * time.Minute,
	})
	if err := store.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	h := router.New(router.Deps{
		Publisher:       jwks.NewPublisher(store, 5*time.Minute),
		Issuer:          token.NewIssuer("auth", store),
		Store:           store,
		Operator:        &serviceauth.Verifier{SharedSecret: testSecret},
		DefaultAudience: "orgs",
		DefaultSubject:  "tms",
	})
	return h, store
}

func do(t *testing.T, h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestJWKSIsPublicAndCacheable(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/v1/service/jwks", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Fatalf("cache-control: got %q", cc)
	}

	var doc struct {
		Keys []keys.JWK `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("want 1 key, got %d", len(doc.Keys))
	}
	if doc.Keys[0].Kty != "RSA" || doc.Keys[0].Alg != "RS256" {
		t.Fatalf("unexpected jwk: %+v", doc.Keys[0])
	}
}

func TestTokenEndpointRequiresSecret(t *testing.T) {
	h, _ := newTestHandler(t)
	for name, auth := range map[string]string{
		"no credential": "",
		"wrong secret":  "Service nope",
		"wrong scheme":  "Bearer " + testSecret,
	} {
		if rec := do(t, h, http.MethodPost, "/v1/service/token", auth, "{}"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: want 401, got %d", name, rec.Code)
		}
	}
}

func TestTokenEndpointIssuesSignedToken(t *testing.T) {
	h, store := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/v1/service/token", "Service "+testSecret, `{"aud": "billing"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Token == "" {
		t.Fatalf("bad body %q: %v", rec.Body.String(), err)
	}

	parsed, _, err := jwtv5.NewParser().ParseUnverified(out.Token, jwtv5.MapClaims{})
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	cur, err := store.CurrentSigningKey(context.Background())
	if err != nil {
		t.Fatalf("current key: %v", err)
	}
	if kid, _ := parsed.Header["kid"].(string); kid != cur.KID {
		t.Fatalf("kid: want %q, got %q", cur.KID, kid)
	}
	claims := parsed.Claims.(jwtv5.MapClaims)
	if claims["aud"] != "billing" {
		t.Fatalf("aud override ignored: %v", claims["aud"])
	}
	if claims["sub"] != "tms" {
		t.Fatalf("sub default not applied: %v", claims["sub"])
	}
}

func TestTokenEndpointEmptyBodyUsesDefaults(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodPost, "/v1/service/token", "Service "+testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRotateEndpoint(t *testing.T) {
	h, store := newTestHandler(t)
	before, _ := store.CurrentSigningKey(context.Background())

	if rec := do(t, h, http.MethodPost, "/v1/service/rotate", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated rotate: want 401, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/v1/service/rotate", "Service "+testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		KID string `json:"kid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.KID == "" || out.KID == before.KID {
		t.Fatalf("rotation must report a fresh kid, got %q", out.KID)
	}

	// The retired key stays published for its grace window.
	jrec := do(t, h, http.MethodGet, "/v1/service/jwks", "", "")
	var doc struct {
		Keys []keys.JWK `json:"keys"`
	}
	if err := json.Unmarshal(jrec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode jwks: %v", err)
	}
	if len(doc.Keys) != 2 {
		t.Fatalf("want new + graced key in jwks, got %d", len(doc.Keys))
	}
	if doc.Keys[0].KID != out.KID {
		t.Fatalf("newest key must lead the set, got %q", doc.Keys[0].KID)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}
