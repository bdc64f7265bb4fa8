// Package authz decides allow/deny per request from resolved role
// memberships, the requested action, and the tenant context. Decisions are
// fail-closed: missing context or unproved membership denies writes.
package authz

import (
	"context"
	"errors"
	"net/http"

	"github.com/tmstack/trustplane/internal/observability/logger"
	"github.com/tmstack/trustplane/pkg/membership"
)

// ErrTenantMismatch is returned when the request-level tenant hint and the
// token's tenant claim name different tenants. Both being present and
// disagreeing is a tenant-confusion attempt, not a recoverable state.
var ErrTenantMismatch = errors.New("tenant context mismatch")

// ResolveTenant combines the request-level hint (header or query parameter,
// header wins) with the token's tenant claim. Either alone establishes
// context; both together must agree.
func ResolveTenant(header, param, claim string) (string, error) {
	hint := header
	if hint == "" {
		hint = param
	}
	if hint != "" && claim != "" && hint != claim {
		return "", ErrTenantMismatch
	}
	if hint != "" {
		return hint, nil
	}
	return claim, nil
}

// RoleResolver is the slice of the membership resolver the engine needs.
type RoleResolver interface {
	Roles(ctx context.Context, tenantID, userID string) membership.RoleSet
	ProjectRoles(ctx context.Context, tenantID, userID, projectID string) membership.RoleSet
}

// Request describes one authorization check.
type Request struct {
	// TenantHeader/TenantParam are request-level tenant hints.
	TenantHeader string
	TenantParam  string
	// TenantClaim is the tenant asserted by the verified token, if any.
	TenantClaim string

	UserID string

	// ResourceType keys into the role matrix, e.g. "testcase".
	ResourceType string
	// ProjectID scopes the check to a project when known; project roles
	// take precedence over tenant roles.
	ProjectID string
	// Action is a named action override, e.g. "archive". Optional.
	Action string
	// Method is the HTTP method driving the read/write split.
	Method string
}

// Decision is the outcome of a check. Reason is for logs and error bodies,
// not for branching.
type Decision struct {
	Allowed  bool
	TenantID string
	Reason   string
}

// Engine combines the role matrix with a membership resolver.
type Engine struct {
	Roles  RoleResolver
	Matrix Matrix
}

func NewEngine(roles RoleResolver, matrix Matrix) *Engine {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Engine{Roles: roles, Matrix: matrix}
}

// Decide runs the full check: tenant context, read shortcut, then role
// membership against the matrix.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	tenantID, err := ResolveTenant(req.TenantHeader, req.TenantParam, req.TenantClaim)
	if err != nil {
		return Decision{Allowed: false, Reason: "tenant_mismatch"}
	}

	if isRead(req.Method) {
		// Reads are scoped by tenant filtering in the resource layer; the
		// engine only guards against tenant confusion here.
		return Decision{Allowed: true, TenantID: tenantID}
	}

	if tenantID == "" {
		return Decision{Allowed: false, Reason: "no_tenant_context"}
	}
	if req.UserID == "" {
		return Decision{Allowed: false, Reason: "no_user"}
	}

	allowed := e.Matrix.allowedFor(req.ResourceType, req.Action, req.Method)

	roles := membership.RoleSet{}
	if req.ProjectID != "" {
		roles = e.Roles.ProjectRoles(ctx, tenantID, req.UserID, req.ProjectID)
	}
	if roles.Empty() {
		roles = e.Roles.Roles(ctx, tenantID, req.UserID)
	}

	if !roles.HasAny(allowed...) {
		logger.Named("authz").Debug("write denied",
			logger.TenantID(tenantID),
			logger.UserID(req.UserID),
			logger.Path(req.ResourceType),
		)
		return Decision{Allowed: false, TenantID: tenantID, Reason: "insufficient_role"}
	}
	return Decision{Allowed: true, TenantID: tenantID}
}

func isRead(method string) bool {
	// Unknown or missing methods count as writes: ambiguity fails closed.
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
