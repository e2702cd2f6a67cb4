package permissions

import (
	"sort"
	"strings"
)

// Permission is a single grantable capability, e.g. "crm:customers:read".
type Permission string

// Wildcard and special grant tokens.
const (
	// GlobalWildcard matches every possible requirement.
	GlobalWildcard Permission = "*"
	// AdminWildcard is the two-segment form of the global wildcard.
	AdminWildcard Permission = "*:*"
	// ViewAll lifts query-level ownership scoping without granting any
	// operation by itself.
	ViewAll Permission = "view_all"
)

// Wildcard is the segment wildcard.
const wildcardSegment = "*"

// Parse validates a permission string. It accepts two- and three-segment
// tokens plus the special grants GlobalWildcard and ViewAll; anything
// else returns a *MalformedPermissionError.
func Parse(s string) (Permission, error) {
	if s == string(GlobalWildcard) || s == string(ViewAll) {
		return Permission(s), nil
	}
	segments := strings.Split(s, ":")
	if len(segments) != 2 && len(segments) != 3 {
		return "", &MalformedPermissionError{Raw: s}
	}
	for _, seg := range segments {
		if seg == "" {
			return "", &MalformedPermissionError{Raw: s}
		}
	}
	return Permission(s), nil
}

// Segments returns the colon-delimited segments of the permission.
func (p Permission) Segments() []string {
	return strings.Split(string(p), ":")
}

// Set is an immutable-by-convention collection of granted permissions.
// All methods are read-only and safe for concurrent use.
type Set map[Permission]struct{}

// NewSet builds a Set from the given permissions, deduplicating.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// ParseSet builds a Set from raw strings. The first malformed string
// aborts with a *MalformedPermissionError; callers treat that as a
// configuration bug and fail closed.
func ParseSet(raw []string) (Set, error) {
	s := make(Set, len(raw))
	for _, r := range raw {
		p, err := Parse(r)
		if err != nil {
			return nil, err
		}
		s[p] = struct{}{}
	}
	return s, nil
}

// Contains reports whether the exact permission string is in the set.
func (s Set) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Has reports whether the set satisfies the required permission under
// the hierarchical matching rules. A malformed requirement fails closed.
func (s Set) Has(required Permission) bool {
	if s.hasGlobalWildcard() {
		return true
	}
	if s.Contains(required) {
		return true
	}

	segments := required.Segments()
	switch len(segments) {
	case 2:
		module := segments[0]
		return s.Contains(Permission(module + ":" + wildcardSegment))
	case 3:
		module, submodule, action := segments[0], segments[1], segments[2]
		if s.Contains(Permission(module + ":" + wildcardSegment)) {
			return true
		}
		// A module-level grant covers all submodules for the same action.
		if s.Contains(Permission(module + ":" + action)) {
			return true
		}
		return s.Contains(Permission(module + ":" + submodule + ":" + wildcardSegment))
	default:
		// Single-segment requirements only match exactly (handled above)
		// or via the global wildcard. Everything else fails closed.
		return false
	}
}

// HasAny reports whether any of the required permissions is satisfied
// (OR semantics, used for endpoint guards that accept alternatives).
func (s Set) HasAny(required ...Permission) bool {
	for _, r := range required {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll reports whether every required permission is satisfied (AND
// semantics, used for composite operations).
func (s Set) HasAll(required ...Permission) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Missing returns the required permissions the set does not satisfy,
// in the order given. Used to build actionable denial messages.
func (s Set) Missing(required ...Permission) []Permission {
	var missing []Permission
	for _, r := range required {
		if !s.Has(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// CanViewAll reports whether the set lifts ownership scoping: the
// global wildcard, the "view_all" grant, or "*:view_all".
func (s Set) CanViewAll() bool {
	return s.Has(ViewAll) || s.Has(Permission("*:view_all"))
}

// Union returns a new set containing both operands' permissions.
func (s Set) Union(other Set) Set {
	merged := make(Set, len(s)+len(other))
	for p := range s {
		merged[p] = struct{}{}
	}
	for p := range other {
		merged[p] = struct{}{}
	}
	return merged
}

// Strings returns the permissions as a sorted string slice, for
// serialization and stable log output.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

func (s Set) hasGlobalWildcard() bool {
	return s.Contains(GlobalWildcard) || s.Contains(AdminWildcard)
}
