package pagination

import (
	"net/url"
	"strconv"
)

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Params is a zero-based page request.
type Params struct {
	Page int
	Size int
}

// New clamps page and size to valid values.
func New(page, size int) Params {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Params{Page: page, Size: size}
}

// Apply sets page and size on q.
func (p Params) Apply(q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("size", strconv.Itoa(p.Size))
	return q
}

// Offset is the index of the first item on the page.
func (p Params) Offset() int {
	return p.Page * p.Size
}

// HasNext reports whether another page may follow one with n items.
// A full page is assumed to have a successor.
func (p Params) HasNext(n int) bool {
	return n >= p.Size
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Page > 0
}

func (p Params) Next() Params {
	return Params{Page: p.Page + 1, Size: p.Size}
}

// Previous returns the previous page, or the first page.
func (p Params) Previous() Params {
	if p.Page == 0 {
		return p
	}
	return Params{Page: p.Page - 1, Size: p.Size}
}

// Page is one page of results.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Size    int  `json:"size"`
	HasMore bool `json:"has_more"`
}

func NewPage[T any](items []T, p Params) *Page[T] {
	return &Page[T]{
		Items:   items,
		Page:    p.Page,
		Size:    p.Size,
		HasMore: p.HasNext(len(items)),
	}
}
