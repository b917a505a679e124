package records

import (
	"fmt"
	"sort"

	"purchasedash/internal/analytics"
	"purchasedash/internal/core"
)

type fieldType int

const (
	textField fieldType = iota
	numberField
)

type filterField struct {
	column string // SQL column; the filter name is used verbatim in MongoDB
	typ    fieldType
}

var filterable = map[string]filterField{
	"status":      {column: "status", typ: textField},
	"categoryId":  {column: "category_id", typ: textField},
	"supplierId":  {column: "supplier_id", typ: textField},
	"staffId":     {column: "staff_id", typ: textField},
	"totalAmount": {column: "total_amount", typ: numberField},
}

// FilterableFields lists the fields a filter may constrain.
func FilterableFields() []string {
	out := make([]string, 0, len(filterable))
	for name := range filterable {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// resolve checks that the condition targets a known field with operands of the
// field's type.
func resolve(fc analytics.FieldCondition) (filterField, error) {
	col, ok := filterable[fc.Field]
	if !ok {
		return filterField{}, core.NewConfigError(fmt.Sprintf("unknown filter field %q", fc.Field))
	}

	operands := []analytics.Value{fc.Value}
	if fc.Value.Kind() == analytics.KindList {
		operands = fc.Value.Items()
	}
	for _, v := range operands {
		if !col.accepts(v.Kind()) {
			return filterField{}, core.NewConfigError(fmt.Sprintf("field %q: %s value not allowed", fc.Field, kindName(v.Kind())))
		}
	}
	return col, nil
}

func (s filterField) accepts(k analytics.Kind) bool {
	switch s.typ {
	case textField:
		return k == analytics.KindString
	case numberField:
		return k == analytics.KindInt || k == analytics.KindFloat
	default:
		return false
	}
}

func kindName(k analytics.Kind) string {
	switch k {
	case analytics.KindString:
		return "string"
	case analytics.KindInt, analytics.KindFloat:
		return "numeric"
	case analytics.KindBool:
		return "boolean"
	case analytics.KindList:
		return "list"
	default:
		return "invalid"
	}
}
