package records

import (
	"fmt"
	"strings"
	"time"

	"purchasedash/internal/analytics"
)

var sqlOperators = map[analytics.Operator]string{
	analytics.OpEq:  "=",
	analytics.OpNe:  "<>",
	analytics.OpGt:  ">",
	analytics.OpGte: ">=",
	analytics.OpLt:  "<",
	analytics.OpLte: "<=",
}

// sqlDialect captures the differences between the SQL backends.
type sqlDialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) interface{}
}

// whereClause renders the predicate for the records table. Column names come from
// the field allowlist, never from input.
func (d sqlDialect) whereClause(collection string, pred analytics.Predicate) (string, []interface{}, error) {
	var (
		clauses []string
		args    []interface{}
	)
	bind := func(v interface{}) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	clauses = append(clauses, "collection = "+bind(collection))
	clauses = append(clauses, "created_at >= "+bind(d.timeArg(pred.Since.UTC())))

	for _, fc := range pred.Conditions {
		col, err := resolve(fc)
		if err != nil {
			return "", nil, err
		}

		if fc.Op == analytics.OpIn {
			items := fc.Value.Items()
			marks := make([]string, len(items))
			for i, item := range items {
				marks[i] = bind(item.Interface())
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col.column, strings.Join(marks, ", ")))
			continue
		}

		op, ok := sqlOperators[fc.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator %q", fc.Op)
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", col.column, op, bind(fc.Value.Interface())))
	}

	return strings.Join(clauses, " AND "), args, nil
}
