package db

import "fmt"

// Query builds a filtered SELECT with a matching COUNT. Placeholders are
// numbered in the order clauses are added.
type Query struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewQuery starts a query over from, which may include joins.
func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols, idx: 1}
}

// Idx returns the next available placeholder index.
func (q *Query) Idx() int { return q.idx }

// Add appends a WHERE fragment (without leading "AND") using placeholders
// starting at Idx().
func (q *Query) Add(clause string, args ...interface{}) *Query {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
	return q
}

// Eq adds "column = $n".
func (q *Query) Eq(column string, value interface{}) *Query {
	return q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *Query) CountArgs() []interface{} {
	return q.args
}

func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// PageSQL is DataSQL with LIMIT and OFFSET placeholders appended.
func (q *Query) PageSQL() string {
	return q.DataSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

// PageArgs returns the filter arguments followed by limit and offset.
func (q *Query) PageArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
