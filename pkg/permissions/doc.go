// Package permissions implements hierarchical permission resolution for PlexCRM.
//
// # Permission Strings
//
// A permission is a colon-delimited token of two or three segments:
//
//	module:action              e.g. "crm:read"
//	module:submodule:action    e.g. "crm:customers:read"
//
// Any segment may be the wildcard "*". Two single-segment tokens are
// recognized as special grants: "*" (the global wildcard, matches every
// requirement) and "view_all" (lifts query-level ownership scoping, see
// pkg/datascope). Anything else that is not two or three segments is
// malformed and fails closed.
//
// # Matching Rules
//
// A granted set satisfies a required permission when, most specific to
// least specific:
//
//  1. The set contains "*" or the admin wildcard "*:*".
//  2. The set contains the exact required string.
//  3. For "module:action" requirements: the set contains "module:*".
//  4. For "module:submodule:action" requirements: the set contains
//     "module:*", "module:action" (a module-level grant covers all of
//     its submodules for the same action), or "module:submodule:*".
//
// No other implication holds. In particular a submodule-scoped grant
// never widens to the whole module: "crm:customers:read" does not
// satisfy "crm:read".
//
// # Roles
//
// Role defaults are a static compile-time table (see roles.go). Per-user
// overrides are unioned with, never replace, the role defaults.
package permissions
