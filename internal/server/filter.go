package server

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"purchasedash/internal/analytics"
	"purchasedash/internal/core"
)

// ParseFilter decodes a JSON filter such as the "filter" query parameter. It is an
// object keyed by field name whose values take one of three forms:
//
//	"paid"                   equality
//	["paid", "pending"]      membership
//	{"gte": 100}             explicit operator; "$gte" is accepted too
//
// An empty string yields an empty filter.
func ParseFilter(raw string) (analytics.Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, core.NewInvalidRequestError("filter must be valid JSON", nil)
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, core.NewInvalidRequestError("filter must be a JSON object", nil)
	}

	f := make(analytics.Filter)
	var err error
	doc.ForEach(func(key, value gjson.Result) bool {
		var cond analytics.Condition
		cond, err = parseCondition(key.String(), value)
		if err != nil {
			return false
		}
		f[key.String()] = cond
		return true
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func parseCondition(field string, value gjson.Result) (analytics.Condition, error) {
	switch {
	case value.IsArray():
		items, err := parseList(field, value)
		if err != nil {
			return analytics.Condition{}, err
		}
		return analytics.In(items...), nil
	case value.IsObject():
		return parseOperatorObject(field, value)
	default:
		v, err := parseScalar(field, value)
		if err != nil {
			return analytics.Condition{}, err
		}
		return analytics.Eq(v), nil
	}
}

func parseOperatorObject(field string, obj gjson.Result) (analytics.Condition, error) {
	entries := obj.Map()
	if len(entries) != 1 {
		return analytics.Condition{}, core.NewInvalidRequestError(
			fmt.Sprintf("filter field %q: operator object must have exactly one key", field), nil)
	}

	for name, operand := range entries {
		op := analytics.Operator(strings.TrimPrefix(name, "$"))
		if op == analytics.OpIn {
			if !operand.IsArray() {
				return analytics.Condition{}, core.NewInvalidRequestError(
					fmt.Sprintf("filter field %q: in expects an array", field), nil)
			}
			items, err := parseList(field, operand)
			if err != nil {
				return analytics.Condition{}, err
			}
			return analytics.In(items...), nil
		}

		v, err := parseScalar(field, operand)
		if err != nil {
			return analytics.Condition{}, err
		}
		// Unknown operators are reported by the engine as config errors.
		return analytics.Condition{Op: op, Value: v}, nil
	}
	return analytics.Condition{}, nil
}

func parseList(field string, arr gjson.Result) ([]analytics.Value, error) {
	elems := arr.Array()
	items := make([]analytics.Value, 0, len(elems))
	for _, elem := range elems {
		v, err := parseScalar(field, elem)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func parseScalar(field string, v gjson.Result) (analytics.Value, error) {
	switch v.Type {
	case gjson.String:
		return analytics.String(v.String()), nil
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return analytics.Float(v.Float()), nil
		}
		return analytics.Int(v.Int()), nil
	case gjson.True, gjson.False:
		return analytics.Bool(v.Bool()), nil
	default:
		return analytics.Value{}, core.NewInvalidRequestError(
			fmt.Sprintf("filter field %q: unsupported value %s", field, v.Raw), nil)
	}
}
