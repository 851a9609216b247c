// Package query translates request query parameters into the clauses the
// layer store applies: a filter expression, a sort order, and pagination.
package query

import (
	"net/url"
	"strings"

	"layer_service/layer_registry/schema"

	"gorm.io/gorm"
)

// reserved parameters that are never treated as layer attributes.
var reservedParams = map[string]bool{
	"loggedUser":   true,
	"sort":         true,
	"includes":     true,
	"page[number]": true,
	"page[size]":   true,
	"ids":          true,
}

type clause struct {
	expr string
	args []interface{}
}

// Filter is a conjunction of storage clauses compiled from request
// parameters. Apply attaches it to a gorm query.
type Filter struct {
	clauses []clause
}

func (f *Filter) where(expr string, args ...interface{}) {
	f.clauses = append(f.clauses, clause{expr: expr, args: args})
}

func (f *Filter) Apply(db *gorm.DB) *gorm.DB {
	for _, c := range f.clauses {
		db = db.Where(c.expr, c.args...)
	}
	return db
}

// matchNothing makes the filter yield an empty result set. Used when an id
// allow-list was requested but resolved to nothing.
func (f *Filter) matchNothing() {
	f.where("1 = 0")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (f *Filter) stringMatch(column, value string) {
	f.where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(value)+"%")
}

// listMatch filters a JSON-encoded list column. An `@`-joined value requires
// every listed element to be present; a comma-joined value requires any.
func (f *Filter) listMatch(column, value string) {
	if strings.Contains(value, "@") {
		for _, v := range strings.Split(value, "@") {
			if v = strings.TrimSpace(v); v != "" {
				f.where(column+" LIKE ?", `%"`+v+`"%`)
			}
		}
		return
	}

	values := splitList(value)
	if len(values) == 0 {
		return
	}
	exprs := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		exprs = append(exprs, column+" LIKE ?")
		args = append(args, `%"`+v+`"%`)
	}
	f.where("("+strings.Join(exprs, " OR ")+")", args...)
}

func (f *Filter) boolMatch(column, value string) {
	f.where(column+" = ?", strings.EqualFold(value, "true"))
}

// Params carries the raw request parameters plus the id allow-list resolved
// upstream (collection/favourite lookups) and the user ids matching a
// usersRole query.
type Params struct {
	Values url.Values

	// IdAllowList restricts results to the listed layer ids. HasAllowList
	// distinguishes "no restriction" from "restriction that matched nothing".
	IdAllowList  []string
	HasAllowList bool

	// UsersRoleIds is the set of user ids matching the usersRole parameter,
	// resolved through the user service before compilation.
	UsersRoleIds []string

	// Dataset scopes the query to one dataset by exact id, unlike the
	// dataset query parameter which matches as a substring.
	Dataset string
}

func first(values url.Values, key string) (string, bool) {
	if vs, ok := values[key]; ok && len(vs) > 0 {
		return vs[0], true
	}
	return "", false
}

// CompileFilter builds the storage filter for a list query, applying the
// precedence rules for reserved, aliased and special-cased parameters.
func CompileFilter(params Params) *Filter {
	filter := &Filter{}
	values := params.Values

	hasFavourite := values.Has("favourite")

	if params.Dataset != "" {
		filter.where("dataset = ?", params.Dataset)
	}

	// env: "all" disables the partition filter, otherwise a comma-separated
	// union, defaulting to production.
	// an empty value is indistinguishable from an absent parameter
	env, hasEnv := first(values, "env")
	if !hasEnv || env == "" {
		env = "production"
	}
	if env != "all" {
		envs := splitList(env)
		if len(envs) > 0 {
			filter.where("env IN ?", envs)
		}
	}

	// usersRole resolves upstream into a user id set, merged with (not
	// replacing) any explicit userId constraint.
	if values.Has("usersRole") {
		if len(params.UsersRoleIds) == 0 {
			filter.matchNothing()
		} else {
			filter.where("user_id IN ?", params.UsersRoleIds)
		}
	}

	for name, raw := range values {
		if len(raw) == 0 || raw[0] == "" {
			continue
		}
		value := raw[0]

		switch name {
		case "env", "usersRole", "favourite", "collection":
			continue
		case "userRole", "userName":
			// sort-support columns are never filterable
			continue
		case "app":
			// alias for application, suppressed entirely when favourites
			// define the id set instead
			if !hasFavourite {
				filter.listMatch("application", value)
			}
			continue
		case "application":
			if hasFavourite {
				continue
			}
		}

		if reservedParams[name] {
			continue
		}

		spec, ok := schema.Fields[name]
		if !ok {
			continue
		}

		switch spec.Kind {
		case schema.StringField:
			filter.stringMatch(spec.Column, value)
		case schema.ListField:
			filter.listMatch(spec.Column, value)
		case schema.BlobField:
			// blob contents are opaque: any supplied value reduces to a
			// presence check
			filter.where(spec.Column + " IS NOT NULL")
		case schema.BoolField:
			filter.boolMatch(spec.Column, value)
		}
	}

	if params.HasAllowList || values.Has("collection") || hasFavourite {
		if len(params.IdAllowList) == 0 {
			filter.matchNothing()
		} else {
			filter.where("id IN ?", params.IdAllowList)
		}
	}

	return filter
}
