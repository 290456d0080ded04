package params

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"shopadmin/internal/domain/catalog"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Pagination
	}{
		{"no params returns everything", "", Pagination{Page: 1}},
		{"limit and page", "limit=30&page=2", Pagination{Limit: 30, Page: 2, Offset: 30}},
		{"limit capped", "limit=500", Pagination{Limit: MaxLimit, Page: 1}},
		{"negative limit", "limit=-3&page=4", Pagination{Page: 1}},
		{"page without limit ignored", "page=3", Pagination{Page: 1}},
		{"garbage", "limit=abc&page=xyz", Pagination{Page: 1}},
		{"page zero", "limit=10&page=0", Pagination{Limit: 10, Page: 1}},
		{"huge page capped", "limit=100&page=99999999999999999", Pagination{Limit: 100, Page: MaxPage, Offset: (MaxPage - 1) * 100}},
		{"page past int range", "limit=10&page=99999999999999999999", Pagination{Limit: 10, Page: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ParsePagination(q))
		})
	}
}

func TestParsePagination_OffsetNeverNegative(t *testing.T) {
	q := url.Values{"limit": {"100"}, "page": {"9223372036854775807"}}
	p := ParsePagination(q)
	assert.Equal(t, MaxPage, p.Page)
	assert.Positive(t, p.Offset)
	assert.Positive(t, p.CatalogPage().Offset)
}

func TestPagination_CatalogPage(t *testing.T) {
	p := Pagination{Limit: 15, Page: 3, Offset: 30}
	assert.Equal(t, catalog.Page{Limit: 15, Offset: 30}, p.CatalogPage())
}

func TestPagination_ComputeMeta(t *testing.T) {
	p := Pagination{Limit: 10, Page: 2, Offset: 10}
	p.ComputeMeta(25)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasPrev)
	assert.True(t, p.HasNext)

	all := Pagination{Page: 1}
	all.ComputeMeta(25)
	assert.Equal(t, 1, all.TotalPages)
	assert.False(t, all.HasNext)
	assert.False(t, all.HasPrev)

	empty := Pagination{Page: 1}
	empty.ComputeMeta(0)
	assert.Zero(t, empty.TotalPages)
}
