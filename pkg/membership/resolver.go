// Package membership answers "what roles does this user hold in this
// tenant?" by querying the organization service over an authenticated
// channel. Absence of proof is non-membership: every failure mode resolves
// to an empty role set, never to an error the caller might misread as
// access.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tmstack/trustplane/internal/metrics"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// TokenSource obtains a signed service token for an outbound call.
// Implementations may call the auth service or sign locally.
type TokenSource interface {
	ServiceToken(ctx context.Context, aud, sub string) (string, error)
}

// Resolver queries the organization collaborator for role memberships.
type Resolver struct {
	// BaseURL of the organization service API, e.g. "http://orgs:8000/api".
	BaseURL string
	HTTP    *http.Client

	// Tokens, when set, is the preferred credential: a freshly issued
	// signed service token per call.
	Tokens TokenSource
	// JWTSecret self-signs an HS256 token when Tokens is unavailable.
	JWTSecret string
	// SharedSecret is the last-resort opaque credential.
	SharedSecret string

	// Issuer/Audience/Subject label the self-signed and issued tokens.
	Issuer   string
	Audience string
	Subject  string

	cache    *gocache.Cache
	cacheTTL time.Duration
}

func NewResolver(baseURL string, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &Resolver{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     client,
		Issuer:   "tms",
		Audience: "orgs",
		Subject:  "tms",
		cache:    gocache.New(30*time.Second, time.Minute),
		cacheTTL: 30 * time.Second,
	}
}

// WithCacheTTL adjusts how long a successful lookup is reused in-process.
func (r *Resolver) WithCacheTTL(ttl time.Duration) *Resolver {
	r.cache = gocache.New(ttl, 2*ttl)
	r.cacheTTL = ttl
	return r
}

// Roles resolves the tenant-level role keys for (tenantID, userID).
// Never returns an error; see the package comment.
func (r *Resolver) Roles(ctx context.Context, tenantID, userID string) RoleSet {
	if tenantID == "" || userID == "" {
		return RoleSet{}
	}
	key := "m:" + tenantID + ":" + userID
	if v, ok := r.cache.Get(key); ok {
		return v.(RoleSet)
	}
	q := url.Values{"tenant": {tenantID}, "user_id": {userID}}
	set, ok := r.fetchRoles(ctx, "/memberships", q, tenantID)
	if ok {
		r.cache.Set(key, set, r.cacheTTL)
	}
	return set
}

// ProjectRoles resolves project-scoped role keys, which take precedence
// over tenant roles when present. Same contract as Roles.
func (r *Resolver) ProjectRoles(ctx context.Context, tenantID, userID, projectID string) RoleSet {
	if tenantID == "" || userID == "" || projectID == "" {
		return RoleSet{}
	}
	key := "p:" + tenantID + ":" + userID + ":" + projectID
	if v, ok := r.cache.Get(key); ok {
		return v.(RoleSet)
	}
	q := url.Values{"tenant": {tenantID}, "user_id": {userID}, "project": {projectID}}
	set, ok := r.fetchRoles(ctx, "/project-roles", q, tenantID)
	if ok {
		r.cache.Set(key, set, r.cacheTTL)
	}
	return set
}

// IsMember reports whether the user holds any role in the tenant.
func (r *Resolver) IsMember(ctx context.Context, tenantID, userID string) bool {
	return !r.Roles(ctx, tenantID, userID).Empty()
}

func (r *Resolver) fetchRoles(ctx context.Context, path string, q url.Values, tenantID string) (RoleSet, bool) {
	items, ok := r.fetchItems(ctx, path, q)
	if !ok {
		metrics.MembershipFetchFailures.Inc()
		return RoleSet{}, false
	}
	set := RoleSet{}
	for _, it := range items {
		// Only trust rows for the tenant we asked about.
		if !tenantMatches(it["tenant"], tenantID) {
			continue
		}
		if rk, _ := it["role_key"].(string); rk != "" {
			set[rk] = struct{}{}
		}
	}
	return set, true
}

func (r *Resolver) fetchItems(ctx context.Context, path string, q url.Values) ([]map[string]any, bool) {
	reqURL := r.BaseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false
	}
	if h := r.authorization(ctx); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		logger.Named("membership").Warn("membership fetch failed", logger.Err(err))
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Named("membership").Warn("membership fetch non-200", logger.Status(resp.StatusCode))
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false
	}
	items, err := normalize(body)
	if err != nil {
		logger.Named("membership").Warn("membership payload unusable", logger.Err(err))
		return nil, false
	}
	return items, true
}

// authorization builds the strongest credential available: issued signed
// token, then self-signed HS256, then the raw shared secret.
func (r *Resolver) authorization(ctx context.Context) string {
	if r.Tokens != nil {
		if tok, err := r.Tokens.ServiceToken(ctx, r.Audience, r.Subject); err == nil && tok != "" {
			return "ServiceBearer " + tok
		}
		// Issuance being down must not block the lookup; fall through.
	}
	if r.JWTSecret != "" {
		now := time.Now().UTC()
		claims := jwtv5.MapClaims{
			"iss": r.Issuer,
			"aud": r.Audience,
			"sub": r.Subject,
			"iat": now.Unix(),
			"exp": now.Add(time.Minute).Unix(),
		}
		if tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte(r.JWTSecret)); err == nil {
			return "ServiceBearer " + tok
		}
	}
	if r.SharedSecret != "" {
		return "Service " + r.SharedSecret
	}
	return ""
}

// normalize accepts the collaborator's two documented response shapes, a
// flat list or an envelope with "results" and/or "count", and flattens both
// to the item list.
func normalize(body []byte) ([]map[string]any, error) {
	var asList []map[string]any
	if err := json.Unmarshal(body, &asList); err == nil {
		return asList, nil
	}

	var envelope struct {
		Results []map[string]any `json:"results"`
		Count   *int             `json:"count"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("neither list nor envelope: %w", err)
	}
	if envelope.Results != nil {
		return envelope.Results, nil
	}
	if envelope.Count != nil {
		// Envelope with a count but no results: nothing to grant.
		return []map[string]any{}, nil
	}
	return nil, fmt.Errorf("envelope missing results and count")
}

// tenantMatches compares the row's tenant field (number or string in the
// wild) against the requested tenant id.
func tenantMatches(v any, tenantID string) bool {
	switch t := v.(type) {
	case string:
		return t == tenantID
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64) == tenantID
	case json.Number:
		return t.String() == tenantID
	default:
		return false
	}
}
