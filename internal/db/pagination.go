package db

import "strings"

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
	// MaxPageNumber keeps (Number-1)*Limit far from integer overflow.
	MaxPageNumber = 1_000_000
)

type Page struct {
	Number int
	Limit  int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalize()
	return (p.Number - 1) * p.Limit
}

type Pagination struct {
	Total       int64 `json:"total"`
	TotalPages  int64 `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	Limit       int   `json:"limit"`
}

func newPagination(total int64, p Page) Pagination {
	p = p.normalize()
	return Pagination{
		Total:       total,
		TotalPages:  (total + int64(p.Limit) - 1) / int64(p.Limit),
		CurrentPage: p.Number,
		Limit:       p.Limit,
	}
}

// orderClause resolves a client-supplied sort key against an allow-list.
func orderClause(columns map[string]string, sortBy, fallback string, desc bool) string {
	col, ok := columns[sortBy]
	if !ok {
		col = columns[fallback]
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
