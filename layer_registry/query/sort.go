package query

import (
	"strings"

	"layer_service/layer_registry/schema"

	"gorm.io/gorm"
)

type SortField struct {
	Field      string
	Column     string
	Descending bool
}

// Sort is the ordered list of (field, direction) pairs compiled from a sort
// spec string.
type Sort struct {
	fields []SortField
}

func (s *Sort) Fields() []SortField {
	return s.fields
}

// UsesUserFields reports whether the sort touches the denormalized user
// columns, which require the pre-pass and an ADMIN caller.
func (s *Sort) UsesUserFields() bool {
	for _, f := range s.fields {
		if f.Field == "userRole" || f.Field == "userName" {
			return true
		}
	}
	return false
}

func (s *Sort) Apply(db *gorm.DB) *gorm.DB {
	for _, f := range s.fields {
		order := f.Column
		if f.Descending {
			order += " DESC"
		}
		db = db.Order(order)
	}
	return db
}

// CompileSort parses a comma-separated sort spec. Each token may carry a `+`
// or `-` prefix (ascending by default). The virtual fields user.role and
// user.name are substituted with `userRole,id` / `userName,id` before sign
// parsing, so the id tie-break is always ascending. Unknown fields are
// dropped; a duplicate field keeps its original position but takes the later
// occurrence's direction.
func CompileSort(spec string) *Sort {
	spec = strings.ReplaceAll(spec, "user.role", "userRole,id")
	spec = strings.ReplaceAll(spec, "user.name", "userName,id")

	sort := &Sort{}
	position := map[string]int{}

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		descending := false
		switch token[0] {
		case '-':
			descending = true
			token = token[1:]
		case '+':
			token = token[1:]
		}
		if token == "" {
			continue
		}

		column, ok := schema.SortColumn(token)
		if !ok {
			continue
		}

		if idx, seen := position[token]; seen {
			sort.fields[idx].Descending = descending
			continue
		}

		position[token] = len(sort.fields)
		sort.fields = append(sort.fields, SortField{Field: token, Column: column, Descending: descending})
	}

	return sort
}
