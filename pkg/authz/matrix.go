package authz

// Rule lists the role keys allowed to perform writes on one resource type.
// Lookup precedence: named action override, then the per-method list, then
// Write, then the package default (owner, admin).
type Rule struct {
	Write   []string
	Create  []string
	Update  []string
	Delete  []string
	Actions map[string][]string
}

// Matrix maps resource types to their write rules. Resource types absent
// from the matrix fall back to the default rule entirely.
type Matrix map[string]Rule

var defaultAllowed = []string{"owner", "admin"}

// allowedFor resolves the role list for (resourceType, action, method).
func (m Matrix) allowedFor(resourceType, action, method string) []string {
	rule, ok := m[resourceType]
	if !ok {
		return defaultAllowed
	}
	if action != "" {
		if roles, ok := rule.Actions[action]; ok && len(roles) > 0 {
			return roles
		}
	}
	var roles []string
	switch method {
	case "POST":
		roles = rule.Create
	case "PUT", "PATCH":
		roles = rule.Update
	case "DELETE":
		roles = rule.Delete
	}
	if len(roles) == 0 {
		roles = rule.Write
	}
	if len(roles) == 0 {
		roles = defaultAllowed
	}
	return roles
}

// DefaultMatrix reflects the platform's resource catalog: owner/admin write
// everywhere, member may additionally create child resources under a
// project, and archive-style actions stay with owner/admin.
func DefaultMatrix() Matrix {
	memberCreate := Rule{
		Create: []string{"owner", "admin", "member"},
		Actions: map[string][]string{
			"archive":   {"owner", "admin"},
			"unarchive": {"owner", "admin"},
		},
	}
	return Matrix{
		"project":      {},
		"testcase":     memberCreate,
		"suite":        memberCreate,
		"suitecase":    memberCreate,
		"section":      memberCreate,
		"testtag":      memberCreate,
		"requirement":  memberCreate,
		"release":      {},
		"testplan":     {},
		"planitem":     {},
		"testrun":      memberCreate,
		"testinstance": memberCreate,
		"importjob":    {},
		"exportjob":    {},
	}
}
