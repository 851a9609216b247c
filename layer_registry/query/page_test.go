package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageDefaults(t *testing.T) {
	page := CompilePage(url.Values{})

	assert.Equal(t, Page{Number: 1, Size: 10}, page)
	assert.Equal(t, 0, page.Offset())
}

func TestPageExplicitValues(t *testing.T) {
	values := url.Values{"page[number]": {"3"}, "page[size]": {"25"}}
	page := CompilePage(values)

	assert.Equal(t, Page{Number: 3, Size: 25}, page)
	assert.Equal(t, 50, page.Offset())
}

func TestPageSizeCap(t *testing.T) {
	values := url.Values{"page[size]": {"5000"}}

	assert.Equal(t, 100, CompilePage(values).Size)
}

func TestPageInvalidValuesFallBack(t *testing.T) {
	values := url.Values{"page[number]": {"zero"}, "page[size]": {"-5"}}

	assert.Equal(t, Page{Number: 1, Size: 10}, CompilePage(values))
}
