package params

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"shopadmin/internal/domain/catalog"
)

const (
	// MaxLimit caps the page size a client may ask for.
	MaxLimit = 100
	// MaxPage keeps (Page-1)*Limit well inside int range.
	MaxPage = 1_000_000
)

// URL: /v1/catalog/products?page=2&limit=30
// → ParsePagination() → Pagination{Limit:30, Page:2, Offset:30}
// → SQL: ... LIMIT 30 OFFSET 30
// → ComputeMeta(total) fills TotalPages, HasNext, etc.
//
// Without a limit the whole listing is returned as a single page.
type Pagination struct {
	Limit      int  `json:"limit"`  // 0 = everything
	Offset     int  `json:"offset"` // SQL OFFSET value
	Page       int  `json:"page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ParsePagination parses ?limit=...&page=... leniently. Bad values fall back
// to the defaults. Keys are case sensitive.
func ParsePagination(q url.Values) Pagination {
	p := Pagination{Page: 1}

	if limitStr := strings.TrimSpace(q.Get("limit")); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			switch {
			case limit <= 0:
				p.Limit = 0
			case limit > MaxLimit:
				p.Limit = MaxLimit
			default:
				p.Limit = limit
			}
		}
	}

	// a page number only means something with a limit
	if p.Limit > 0 {
		if pageStr := strings.TrimSpace(q.Get("page")); pageStr != "" {
			if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
				p.Page = min(page, MaxPage)
			}
		}
	}

	p.Offset = (p.Page - 1) * p.Limit
	return p
}

// CatalogPage is the listing window to ask the store for.
func (p Pagination) CatalogPage() catalog.Page {
	return catalog.Page{Limit: p.Limit, Offset: p.Offset}
}

// ComputeMeta updates pagination after fetching total count.
func (p *Pagination) ComputeMeta(total int) {
	p.Total = total
	switch {
	case p.Limit > 0:
		p.TotalPages = int(math.Ceil(float64(total) / float64(p.Limit)))
	case total > 0:
		p.TotalPages = 1
	default:
		p.TotalPages = 0
	}
	p.HasPrev = p.Page > 1
	p.HasNext = p.Limit > 0 && (p.Page*p.Limit) < total
}
