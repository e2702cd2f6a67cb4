// Package datascope translates a principal's permission set into a
// query-level ownership filter.
//
// Principals holding "view_all" (see pkg/permissions) see every record;
// everyone else is restricted to records they own (assigned to them or
// created by them). An entity kind with no registered owner fields
// yields a filter that matches zero rows: unrecognized resources
// default to invisible, not to globally visible.
package datascope

import (
	"fmt"
	"strings"

	"github.com/plexcrm/plexcrm/pkg/permissions"
)

// Filter is a declarative boolean predicate over a record set. Expr
// uses "?" placeholders; SQL renders them to PostgreSQL positional
// arguments. The zero-value restrictions: an empty Expr matches all
// rows.
type Filter struct {
	expr string
	args []any
}

// matchNoneExpr matches zero rows regardless of data.
const matchNoneExpr = "1 = 0"

// MatchAll returns the unrestricted filter.
func MatchAll() *Filter {
	return &Filter{}
}

// MatchNone returns the filter that matches zero rows.
func MatchNone() *Filter {
	return &Filter{expr: matchNoneExpr}
}

// NewFilter builds a filter from a condition fragment with "?"
// placeholders and its arguments.
func NewFilter(expr string, args ...any) *Filter {
	return &Filter{expr: expr, args: args}
}

// IsMatchAll reports whether the filter imposes no restriction.
func (f *Filter) IsMatchAll() bool {
	return f == nil || f.expr == ""
}

// IsMatchNone reports whether the filter can never match a row.
func (f *Filter) IsMatchNone() bool {
	return f != nil && f.expr == matchNoneExpr
}

// And returns the conjunction of both filters.
func (f *Filter) And(other *Filter) *Filter {
	if f.IsMatchAll() {
		return other.clone()
	}
	if other.IsMatchAll() {
		return f.clone()
	}
	if f.IsMatchNone() || other.IsMatchNone() {
		return MatchNone()
	}
	args := make([]any, 0, len(f.args)+len(other.args))
	args = append(args, f.args...)
	args = append(args, other.args...)
	return &Filter{
		expr: "(" + f.expr + ") AND (" + other.expr + ")",
		args: args,
	}
}

// Or returns the disjunction of both filters.
func (f *Filter) Or(other *Filter) *Filter {
	if f.IsMatchAll() || other.IsMatchAll() {
		return MatchAll()
	}
	if f.IsMatchNone() {
		return other.clone()
	}
	if other.IsMatchNone() {
		return f.clone()
	}
	args := make([]any, 0, len(f.args)+len(other.args))
	args = append(args, f.args...)
	args = append(args, other.args...)
	return &Filter{
		expr: "(" + f.expr + ") OR (" + other.expr + ")",
		args: args,
	}
}

// SQL renders the filter as a PostgreSQL condition with positional
// placeholders starting at start, plus the argument slice. MatchAll
// renders as "TRUE" so callers can always interpolate into a WHERE
// clause.
func (f *Filter) SQL(start int) (string, []any) {
	if f.IsMatchAll() {
		return "TRUE", nil
	}
	var b strings.Builder
	n := start
	for _, ch := range f.expr {
		if ch == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String(), f.args
}

func (f *Filter) clone() *Filter {
	if f == nil {
		return MatchAll()
	}
	args := make([]any, len(f.args))
	copy(args, f.args)
	return &Filter{expr: f.expr, args: args}
}

// Translator maps entity kinds to their owner-like columns and builds
// ownership filters. Instances are immutable after construction and
// safe for concurrent use.
type Translator struct {
	ownerFields map[string][]string
}

// NewTranslator builds a translator with the default entity
// configuration: customers and orders carry assigned_to/created_by.
func NewTranslator() *Translator {
	return &Translator{
		ownerFields: map[string][]string{
			"customers": {"assigned_to", "created_by"},
			"orders":    {"assigned_to", "created_by"},
		},
	}
}

// WithEntity returns a copy of the translator with the entity kind
// mapped to the given owner-like columns. An empty field list is
// allowed and makes the kind invisible to non-view_all principals.
func (t *Translator) WithEntity(kind string, fields ...string) *Translator {
	m := make(map[string][]string, len(t.ownerFields)+1)
	for k, v := range t.ownerFields {
		m[k] = v
	}
	m[kind] = fields
	return &Translator{ownerFields: m}
}

// OwnerFields returns the owner-like columns registered for a kind.
func (t *Translator) OwnerFields(kind string) []string {
	return t.ownerFields[kind]
}

// For computes the effective filter for one request: extra is the
// caller's business filter, granted the principal's resolved
// permission set. view_all passes extra through unmodified; otherwise
// the result is extra AND (owner = principal OR creator = principal).
// Entity kinds with no owner fields fail closed to MatchNone.
func (t *Translator) For(kind string, granted permissions.Set, principalID string, extra *Filter) *Filter {
	if granted.CanViewAll() {
		return extra.clone()
	}

	fields, ok := t.ownerFields[kind]
	if !ok || len(fields) == 0 {
		return MatchNone()
	}

	owned := MatchNone()
	for _, field := range fields {
		owned = owned.Or(NewFilter(field+" = ?", principalID))
	}
	return extra.And(owned)
}
