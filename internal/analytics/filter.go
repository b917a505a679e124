package analytics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"purchasedash/internal/core"
)

// TimeField is the record timestamp every series is bucketed and bounded by.
// Filters may not constrain it; the window is always derived from monthsBack.
const TimeField = "createdAt"

// Operator is a comparison applied to a single field.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

var validOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpIn: true,
}

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
)

// Value is a typed filter operand.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func List(vs ...Value) Value {
	list := make([]Value, len(vs))
	copy(list, vs)
	return Value{kind: KindList, list: list}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// Items returns a copy of the elements of a list value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// Interface returns the Go value suitable for a database driver:
// string, int64, float64, bool or []interface{} for lists.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// canonical encodes the value with a type tag so "1", 1 and 1.0 stay distinct.
func (v Value) canonical() string {
	switch v.kind {
	case KindString:
		return "s:" + strconv.Quote(v.s)
	case KindInt:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.canonical()
		}
		// Membership does not depend on order.
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return "?"
	}
}

func (v Value) String() string { return v.canonical() }

// Condition constrains one field.
type Condition struct {
	Op    Operator
	Value Value
}

func Eq(v Value) Condition { return Condition{Op: OpEq, Value: v} }
func Ne(v Value) Condition { return Condition{Op: OpNe, Value: v} }
func Gt(v Value) Condition { return Condition{Op: OpGt, Value: v} }
func Gte(v Value) Condition { return Condition{Op: OpGte, Value: v} }
func Lt(v Value) Condition { return Condition{Op: OpLt, Value: v} }
func Lte(v Value) Condition { return Condition{Op: OpLte, Value: v} }
func In(vs ...Value) Condition {
	return Condition{Op: OpIn, Value: List(vs...)}
}

// Filter maps field names to conditions. All conditions must hold.
type Filter map[string]Condition

// Clone returns a copy that shares nothing with f.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for field, cond := range f {
		if cond.Value.kind == KindList {
			cond.Value = List(cond.Value.list...)
		}
		out[field] = cond
	}
	return out
}

// Fields returns the field names in sorted order.
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// FieldCondition is a Condition bound to its field.
type FieldCondition struct {
	Field string
	Op    Operator
	Value Value
}

// Predicate is the compiled form handed to a GroupedCountFetcher: records created at
// or after Since that satisfy every condition.
type Predicate struct {
	Since      time.Time
	Conditions []FieldCondition
}

// CompileFilter merges the mandatory lower time bound with the caller's conditions.
// A condition on the reserved time field is rejected rather than allowed to
// widen or narrow the window.
func CompileFilter(since time.Time, f Filter) (Predicate, error) {
	pred := Predicate{
		Since:      since,
		Conditions: make([]FieldCondition, 0, len(f)),
	}

	for _, field := range f.Fields() {
		cond := f[field]
		if err := validateCondition(field, cond); err != nil {
			return Predicate{}, err
		}
		pred.Conditions = append(pred.Conditions, FieldCondition{
			Field: field,
			Op:    cond.Op,
			Value: cond.Value,
		})
	}

	return pred, nil
}

func isReservedField(field string) bool {
	return strings.EqualFold(field, TimeField) || strings.EqualFold(field, "created_at")
}

func validateCondition(field string, cond Condition) error {
	if strings.TrimSpace(field) == "" {
		return core.NewConfigError("filter field name must not be empty")
	}
	if isReservedField(field) {
		return core.NewConfigError(fmt.Sprintf("filter may not constrain reserved field %q", TimeField))
	}
	if !validOperators[cond.Op] {
		return core.NewConfigError(fmt.Sprintf("field %q: unknown operator %q", field, cond.Op))
	}

	switch {
	case cond.Op == OpIn:
		if cond.Value.kind != KindList {
			return core.NewConfigError(fmt.Sprintf("field %q: operator in requires a list", field))
		}
		if len(cond.Value.list) == 0 {
			return core.NewConfigError(fmt.Sprintf("field %q: operator in requires at least one value", field))
		}
		for _, item := range cond.Value.list {
			if item.kind == KindInvalid || item.kind == KindList {
				return core.NewConfigError(fmt.Sprintf("field %q: list items must be scalar values", field))
			}
		}
	case cond.Value.kind == KindList:
		return core.NewConfigError(fmt.Sprintf("field %q: operator %s does not accept a list", field, cond.Op))
	case cond.Value.kind == KindInvalid:
		return core.NewConfigError(fmt.Sprintf("field %q: missing value", field))
	}

	return nil
}
