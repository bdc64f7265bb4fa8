package authz_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/tmstack/trustplane/pkg/authz"
	"github.com/tmstack/trustplane/pkg/membership"
)

// fakeRoles serves canned role sets keyed by tenant/user and project.
type fakeRoles struct {
	tenant  map[string]membership.RoleSet // "tenant:user"
	project map[string]membership.RoleSet // "tenant:user:project"
}

func (f *fakeRoles) Roles(ctx context.Context, tenantID, userID string) membership.RoleSet {
	if s, ok := f.tenant[tenantID+":"+userID]; ok {
		return s
	}
	return membership.RoleSet{}
}

func (f *fakeRoles) ProjectRoles(ctx context.Context, tenantID, userID, projectID string) membership.RoleSet {
	if s, ok := f.project[tenantID+":"+userID+":"+projectID]; ok {
		return s
	}
	return membership.RoleSet{}
}

func TestResolveTenant(t *testing.T) {
	cases := []struct {
		name                 string
		header, param, claim string
		want                 string
		wantErr              bool
	}{
		{"header only", "t1", "", "", "t1", false},
		{"param only", "", "t1", "", "t1", false},
		{"claim only", "", "", "t1", "t1", false},
		{"header beats param", "t1", "t2", "", "t1", false},
		{"hint agrees with claim", "t1", "", "t1", "t1", false},
		{"hint contradicts claim", "t1", "", "t2", "", true},
		{"param contradicts claim", "", "t1", "t2", "", true},
		{"nothing", "", "", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := authz.ResolveTenant(tc.header, tc.param, tc.claim)
			if tc.wantErr {
				if !errors.Is(err, authz.ErrTenantMismatch) {
					t.Fatalf("want ErrTenantMismatch, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("tenant: want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDecideTenantMismatchDeniesEvenReads(t *testing.T) {
	e := authz.NewEngine(&fakeRoles{}, nil)
	d := e.Decide(context.Background(), authz.Request{
		TenantHeader: "t1",
		TenantClaim:  "t2",
		Method:       http.MethodGet,
	})
	if d.Allowed {
		t.Fatal("conflicting tenant context must deny")
	}
	if d.Reason != "tenant_mismatch" {
		t.Fatalf("reason: got %q", d.Reason)
	}
}

func TestDecideReadsAllowedOnceContextResolves(t *testing.T) {
	e := authz.NewEngine(&fakeRoles{}, nil)
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		d := e.Decide(context.Background(), authz.Request{TenantHeader: "t1", Method: m})
		if !d.Allowed {
			t.Fatalf("%s must be allowed, reason %q", m, d.Reason)
		}
		if d.TenantID != "t1" {
			t.Fatalf("%s: tenant %q", m, d.TenantID)
		}
	}
}

func TestDecideWritesNeedContextAndUser(t *testing.T) {
	e := authz.NewEngine(&fakeRoles{}, nil)

	d := e.Decide(context.Background(), authz.Request{Method: http.MethodPost, UserID: "u1"})
	if d.Allowed || d.Reason != "no_tenant_context" {
		t.Fatalf("want no_tenant_context, got %+v", d)
	}

	d = e.Decide(context.Background(), authz.Request{Method: http.MethodPost, TenantHeader: "t1"})
	if d.Allowed || d.Reason != "no_user" {
		t.Fatalf("want no_user, got %+v", d)
	}
}

func TestDecideUnknownMethodTreatedAsWrite(t *testing.T) {
	e := authz.NewEngine(&fakeRoles{}, nil)
	d := e.Decide(context.Background(), authz.Request{TenantHeader: "t1", UserID: "u1"})
	if d.Allowed {
		t.Fatal("missing method must fail closed as a write")
	}
}

func TestDecideRoleMatrix(t *testing.T) {
	roles := &fakeRoles{tenant: map[string]membership.RoleSet{
		"t1:owner-u":  membership.NewRoleSet("owner"),
		"t1:member-u": membership.NewRoleSet("member"),
		"t1:viewer-u": membership.NewRoleSet("viewer"),
	}}
	e := authz.NewEngine(roles, nil)

	cases := []struct {
		name    string
		user    string
		rtype   string
		action  string
		method  string
		allowed bool
	}{
		{"owner creates project", "owner-u", "project", "", http.MethodPost, true},
		{"member cannot create project", "member-u", "project", "", http.MethodPost, false},
		{"member creates testcase", "member-u", "testcase", "", http.MethodPost, true},
		{"member cannot update testcase", "member-u", "testcase", "", http.MethodPut, false},
		{"member cannot archive testcase", "member-u", "testcase", "archive", http.MethodPost, false},
		{"owner archives testcase", "owner-u", "testcase", "archive", http.MethodPost, true},
		{"viewer cannot write anything", "viewer-u", "testcase", "", http.MethodPost, false},
		{"unknown resource falls back to owner/admin", "owner-u", "mystery", "", http.MethodDelete, true},
		{"member denied on unknown resource", "member-u", "mystery", "", http.MethodDelete, false},
		{"non-member denied", "stranger", "testcase", "", http.MethodPost, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(context.Background(), authz.Request{
				TenantHeader: "t1",
				UserID:       tc.user,
				ResourceType: tc.rtype,
				Action:       tc.action,
				Method:       tc.method,
			})
			if d.Allowed != tc.allowed {
				t.Fatalf("want allowed=%v, got %+v", tc.allowed, d)
			}
		})
	}
}

func TestDecideProjectRolesTakePrecedence(t *testing.T) {
	roles := &fakeRoles{
		tenant: map[string]membership.RoleSet{
			"t1:u1": membership.NewRoleSet("viewer"),
		},
		project: map[string]membership.RoleSet{
			"t1:u1:p1": membership.NewRoleSet("admin"),
		},
	}
	e := authz.NewEngine(roles, nil)

	// Project admin writes even though the tenant role alone would deny.
	d := e.Decide(context.Background(), authz.Request{
		TenantHeader: "t1", UserID: "u1", ResourceType: "testcase",
		ProjectID: "p1", Method: http.MethodPut,
	})
	if !d.Allowed {
		t.Fatalf("project admin must win over tenant viewer, got %+v", d)
	}

	// No project grant: tenant roles are the fallback, and viewer cannot write.
	d = e.Decide(context.Background(), authz.Request{
		TenantHeader: "t1", UserID: "u1", ResourceType: "testcase",
		ProjectID: "p2", Method: http.MethodPut,
	})
	if d.Allowed {
		t.Fatalf("tenant viewer must not write, got %+v", d)
	}
}
