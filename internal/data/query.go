// Package data describes the relational data service the portal reads profiles, schools
// and classes from. Queries are declarative: a projection that may embed related rows by
// foreign key, equality-style filters, ordering and a limit.
package data

import (
	"context"
)

// Store is the relational data service.
type Store interface {
	// Select runs q and decodes the resulting rows (a JSON array, or a single JSON object
	// when q.Single is set) into dest.
	Select(ctx context.Context, q Query, dest any) error

	// Upsert inserts row into table, or merges it into the row with the same primary key.
	Upsert(ctx context.Context, table string, row any) error

	// Update applies patch to every row of table matching filters.
	Update(ctx context.Context, table string, patch map[string]any, filters ...Filter) error

	// Delete removes every row of table matching filters.
	Delete(ctx context.Context, table string, filters ...Filter) error
}

// Column is either a plain column name or an embedded related table.
type Column struct {
	Name  string
	Embed *Embed
}

// Embed projects the row of Table referenced by ForeignKey as a nested object named Alias.
type Embed struct {
	Alias      string
	Table      string
	ForeignKey string
	Columns    []Column
}

// Col returns plain columns.
func Col(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n}
	}
	return cols
}

// Nest returns an embed column.
func Nest(alias, table, foreignKey string, cols ...Column) Column {
	return Column{Embed: &Embed{Alias: alias, Table: table, ForeignKey: foreignKey, Columns: cols}}
}

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpIs  Op = "is"
)

// Filter restricts the rows of a query. OpIn takes a []string, OpIs takes nil.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq is the common equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Order sorts query results.
type Order struct {
	Column     string
	Descending bool
}

// Query is a select against one table.
type Query struct {
	Table   string
	Columns []Column
	Filters []Filter
	Order   []Order
	Limit   int
	Single  bool
}

// From starts a query on table.
func From(table string, cols ...Column) Query {
	return Query{Table: table, Columns: cols}
}

// Where returns a copy of q with filters appended.
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// OrderBy returns a copy of q with an ordering appended.
func (q Query) OrderBy(column string, descending bool) Query {
	q.Order = append(append([]Order(nil), q.Order...), Order{Column: column, Descending: descending})
	return q
}

// First returns a copy of q limited to n rows.
func (q Query) First(n int) Query {
	q.Limit = n
	return q
}

// One returns a copy of q that expects exactly one row.
func (q Query) One() Query {
	q.Single = true
	return q
}

// Without returns a copy of q whose top-level projection omits column.
func (q Query) Without(column string) Query {
	cols := make([]Column, 0, len(q.Columns))
	for _, c := range q.Columns {
		if c.Embed == nil && c.Name == column {
			continue
		}
		cols = append(cols, c)
	}
	q.Columns = cols
	return q
}

// Has reports whether column is part of the top-level projection.
func (q Query) Has(column string) bool {
	for _, c := range q.Columns {
		if c.Embed == nil && c.Name == column {
			return true
		}
	}
	return false
}
