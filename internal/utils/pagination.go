package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Page sizes for journal listings
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// PaginationRequest selects one page of a newest-first listing
type PaginationRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// Normalize clamps the page to at least 1 and the limit to [1, MaxPageSize].
// A missing or non-positive limit becomes DefaultPageSize.
func (p PaginationRequest) Normalize() PaginationRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit < 1:
		p.Limit = DefaultPageSize
	case p.Limit > MaxPageSize:
		p.Limit = MaxPageSize
	}
	return p
}

// Offset is the number of rows preceding the page
func (p PaginationRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Scope returns a gorm scope restricting a query to the normalized page
func (p PaginationRequest) Scope() func(*gorm.DB) *gorm.DB {
	n := p.Normalize()
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(n.Offset()).Limit(n.Limit)
	}
}

// GetPaginationFromContext reads page and limit from the query string.
// Unparseable values fall back to the defaults rather than failing the request.
func GetPaginationFromContext(ctx *gin.Context) PaginationRequest {
	return PaginationRequest{
		Page:  queryInt(ctx, "page"),
		Limit: queryInt(ctx, "limit"),
	}.Normalize()
}

func queryInt(ctx *gin.Context, key string) int {
	n, err := strconv.Atoi(ctx.Query(key))
	if err != nil {
		return 0
	}
	return n
}

// Pagination holds page metadata
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int64 `json:"total_items"`
	PerPage     int   `json:"per_page"`
	HasNext     bool  `json:"has_next"`
}

// Page is one page of a listing. Data is never null in JSON.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// NewPage wraps items fetched for req out of total matching rows
func NewPage[T any](items []T, req PaginationRequest, total int64) Page[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}

	limit := int64(req.Limit)
	pages := int((total + limit - 1) / limit)

	return Page[T]{
		Data: items,
		Pagination: Pagination{
			CurrentPage: req.Page,
			TotalPages:  pages,
			TotalItems:  total,
			PerPage:     req.Limit,
			HasNext:     req.Page < pages,
		},
	}
}
