package option

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marinedesk-portal/pkg/db/pagination"
)

// QueryOption mutates a gorm query before it is executed. Options compose:
// repositories apply them in order on top of the struct query.
type QueryOption func(tx *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NE  Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// ApplyOperator adds a comparison predicate outside the struct-equality query.
func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders results by an allow-listed column. Unknown columns are
// ignored rather than interpolated into SQL.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return tx
		}
		direction := "ASC"
		if sort.OrderBy == "desc" || sort.OrderBy == "DESC" {
			direction = "DESC"
		}
		return tx.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE on every query
// inside a transaction.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithLockingUpdate row-locks a single query.
func WithLockingUpdate() QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return LockingUpdate(tx)
	}
}

// ApplyPagination applies a limit; a zero limit falls back to the default.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = pagination.DefaultLimit
		}
		return tx.Limit(limit)
	}
}
