package core

import (
	"sort"
	"strings"
)

// RoleSet is the single normalized shape for role identifiers. Upstream
// systems hand roles over as lists, maps or comma-separated strings; they are
// folded into a RoleSet once at the boundary.
type RoleSet map[string]struct{}

// NewRoleSet normalizes any supported representation. Unsupported inputs
// yield an empty set.
func NewRoleSet(v any) RoleSet {
	rs := RoleSet{}
	switch roles := v.(type) {
	case RoleSet:
		for r := range roles {
			rs.add(r)
		}
	case []string:
		for _, r := range roles {
			rs.add(r)
		}
	case map[string]bool:
		for r, ok := range roles {
			if ok {
				rs.add(r)
			}
		}
	case map[string]struct{}:
		for r := range roles {
			rs.add(r)
		}
	case string:
		for _, r := range strings.Split(roles, ",") {
			rs.add(r)
		}
	}
	return rs
}

func (rs RoleSet) add(role string) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" {
		rs[role] = struct{}{}
	}
}

// Has reports whether role is in the set.
func (rs RoleSet) Has(role string) bool {
	_, ok := rs[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Intersects reports whether the sets share at least one role.
func (rs RoleSet) Intersects(other RoleSet) bool {
	for r := range other {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Sorted returns the roles in lexical order.
func (rs RoleSet) Sorted() []string {
	out := make([]string, 0, len(rs))
	for r := range rs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
