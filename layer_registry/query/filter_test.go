package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findClause(t *testing.T, f *Filter, expr string) clause {
	t.Helper()
	for _, c := range f.clauses {
		if c.expr == expr {
			return c
		}
	}
	t.Fatalf("expected filter to contain clause %q, got %v", expr, f.clauses)
	return clause{}
}

func hasClause(f *Filter, expr string) bool {
	for _, c := range f.clauses {
		if c.expr == expr {
			return true
		}
	}
	return false
}

func TestFilterDefaultsToProductionEnv(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{}})

	c := findClause(t, f, "env IN ?")
	assert.Equal(t, []interface{}{[]string{"production"}}, c.args)
}

func TestFilterEmptyEnvDefaultsToProduction(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"env": {""}}})

	c := findClause(t, f, "env IN ?")
	assert.Equal(t, []interface{}{[]string{"production"}}, c.args)
}

func TestFilterEnvAllDisablesPartition(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"env": {"all"}}})

	assert.False(t, hasClause(f, "env IN ?"))
}

func TestFilterEnvUnion(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"env": {"production,staging"}}})

	c := findClause(t, f, "env IN ?")
	assert.Equal(t, []interface{}{[]string{"production", "staging"}}, c.args)
}

func TestFilterDatasetScopeIsExact(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{}, Dataset: "ds1"})

	c := findClause(t, f, "dataset = ?")
	assert.Equal(t, []interface{}{"ds1"}, c.args)
	assert.False(t, hasClause(f, "LOWER(dataset) LIKE ?"))
}

func TestFilterStringMatchIsCaseInsensitiveSubstring(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"name": {"Water"}}})

	c := findClause(t, f, "LOWER(name) LIKE ?")
	assert.Equal(t, []interface{}{"%water%"}, c.args)
}

func TestFilterListMatchAnyOf(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"iso": {"ESP,BRA"}}})

	c := findClause(t, f, "(iso LIKE ? OR iso LIKE ?)")
	assert.Equal(t, []interface{}{`%"ESP"%`, `%"BRA"%`}, c.args)
}

func TestFilterListMatchAllOf(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"application": {"rw@gfw"}}})

	matches := 0
	for _, c := range f.clauses {
		if c.expr == "application LIKE ?" {
			matches++
		}
	}
	assert.Equal(t, 2, matches, "each @-separated element becomes its own clause")
}

func TestFilterAppAliasesApplication(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"app": {"rw"}}})

	c := findClause(t, f, "application LIKE ?")
	assert.Equal(t, []interface{}{`%"rw"%`}, c.args)
}

func TestFilterFavouriteSuppressesApplication(t *testing.T) {
	values := url.Values{
		"favourite":   {"true"},
		"app":         {"rw"},
		"application": {"gfw"},
	}
	f := CompileFilter(Params{Values: values, HasAllowList: true, IdAllowList: []string{"abc"}})

	assert.False(t, hasClause(f, "application LIKE ?"))

	c := findClause(t, f, "id IN ?")
	assert.Equal(t, []interface{}{[]string{"abc"}}, c.args)
}

func TestFilterBlobReducesToPresenceCheck(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"layerConfig": {"anything"}}})

	c := findClause(t, f, "layer_config IS NOT NULL")
	assert.Empty(t, c.args)
}

func TestFilterBoolMatch(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"published": {"false"}}})

	c := findClause(t, f, "published = ?")
	assert.Equal(t, []interface{}{false}, c.args)
}

func TestFilterQuotesDefaultColumn(t *testing.T) {
	f := CompileFilter(Params{Values: url.Values{"default": {"true"}}})

	c := findClause(t, f, `"default" = ?`)
	assert.Equal(t, []interface{}{true}, c.args)
}

func TestFilterDropsUnknownAndReservedParams(t *testing.T) {
	values := url.Values{
		"env":          {"all"},
		"bogus":        {"value"},
		"sort":         {"name"},
		"includes":     {"user"},
		"page[number]": {"3"},
		"page[size]":   {"20"},
		"loggedUser":   {"{}"},
		"userRole":     {"ADMIN"},
		"userName":     {"john"},
	}
	f := CompileFilter(Params{Values: values})

	require.Empty(t, f.clauses)
}

func TestFilterUsersRole(t *testing.T) {
	values := url.Values{"env": {"all"}, "usersRole": {"MANAGER"}}

	f := CompileFilter(Params{Values: values, UsersRoleIds: []string{"u1", "u2"}})
	c := findClause(t, f, "user_id IN ?")
	assert.Equal(t, []interface{}{[]string{"u1", "u2"}}, c.args)

	// no user carries the role: the query must match nothing, not everything
	f = CompileFilter(Params{Values: values})
	assert.True(t, hasClause(f, "1 = 0"))
}

func TestFilterEmptyAllowListMatchesNothing(t *testing.T) {
	values := url.Values{"env": {"all"}, "collection": {"c1"}}

	f := CompileFilter(Params{Values: values, HasAllowList: true, IdAllowList: nil})
	assert.True(t, hasClause(f, "1 = 0"))
}

func TestFilterAllowListRestrictsIds(t *testing.T) {
	values := url.Values{"env": {"all"}, "collection": {"c1"}}

	f := CompileFilter(Params{Values: values, HasAllowList: true, IdAllowList: []string{"l1", "l2"}})
	c := findClause(t, f, "id IN ?")
	assert.Equal(t, []interface{}{[]string{"l1", "l2"}}, c.args)
}
