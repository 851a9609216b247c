package query

import (
	"net/url"
	"strconv"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

func (p Page) Apply(db *gorm.DB) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Size)
}

func parsePositive(values url.Values, key string, fallback int) int {
	raw := values.Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// CompilePage reads the page[number]/page[size] parameters, clamping the
// size to a fixed cap.
func CompilePage(values url.Values) Page {
	page := Page{
		Number: parsePositive(values, "page[number]", 1),
		Size:   parsePositive(values, "page[size]", defaultPageSize),
	}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}
	return page
}
