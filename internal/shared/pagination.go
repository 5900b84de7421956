package shared

import (
	"math"
	"net/http"
	"strconv"
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PaginationFromRequest reads page and per_page query parameters. per_page is
// capped at 100.
func PaginationFromRequest(r *http.Request, total int) Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage > 100 {
		perPage = 100
	}
	return NewPagination(page, perPage, total)
}

// Bounds returns the half-open slice range of the current page.
// Pages past the last one yield an empty range at Total.
func (p Pagination) Bounds() (start, end int) {
	if p.PerPage <= 0 || p.Page <= 0 || p.Total <= 0 {
		return 0, 0
	}
	if p.Page-1 > p.Total/p.PerPage {
		return p.Total, p.Total
	}
	start = (p.Page - 1) * p.PerPage
	if start > p.Total {
		start = p.Total
	}
	end = p.Total
	if p.PerPage < end-start {
		end = start + p.PerPage
	}
	return start, end
}
