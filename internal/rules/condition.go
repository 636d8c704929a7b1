// internal/rules/condition.go
package rules

import (
	"strings"
	"time"

	"storefront/internal/errs"
)

// Operator is the closed set of comparison operators a condition may use.
// Dispatch happens through an explicit function table, never by building
// query strings from user input.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// FieldKind classifies a schema field for type-aware matching.
type FieldKind int

const (
	KindNumeric FieldKind = iota
	KindText              // case-sensitive equality
	KindFreeText          // case-insensitive equality
	KindTime
	KindBool
)

// Schema maps the queryable field names of a table to their kinds. Only
// schema fields may appear in conditions; everything else is rejected at
// validation time, so field names never reach SQL unchecked.
type Schema map[string]FieldKind

// Record is one candidate row, keyed by field name. Missing fields behave
// like SQL NULLs: positive operators fail, negated operators succeed.
type Record map[string]any

// Condition is a single field/operator/value test.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

type matchFunc func(rec Record, c Condition, kind FieldKind) (bool, error)

var matchers = map[Operator]matchFunc{
	OpEquals:      matchEquals,
	OpNotEquals:   matchNotEquals,
	OpGreaterThan: matchGreaterThan,
	OpLessThan:    matchLessThan,
	OpContains:    matchContains,
	OpNotContains: matchNotContains,
	OpIn:          matchIn,
	OpNotIn:       matchNotIn,
}

// Validate checks the shape of a condition against the schema before any
// evaluation or query building happens.
func (c Condition) Validate(schema Schema) error {
	kind, ok := schema[c.Field]
	if !ok {
		return errs.Validationf("unknown field %q", c.Field)
	}
	if _, ok := matchers[c.Operator]; !ok {
		return errs.Validationf("unknown operator %q", c.Operator)
	}

	list := isList(c.Value)
	switch c.Operator {
	case OpIn, OpNotIn:
		if !list {
			return errs.Validationf("operator %q requires a list value", c.Operator)
		}
	default:
		if list {
			return errs.Validationf("operator %q requires a scalar value", c.Operator)
		}
	}

	switch c.Operator {
	case OpGreaterThan, OpLessThan:
		if kind != KindNumeric && kind != KindTime {
			return errs.Validationf("operator %q requires a numeric or date field, %q is not", c.Operator, c.Field)
		}
	case OpContains, OpNotContains:
		if kind != KindText && kind != KindFreeText {
			return errs.Validationf("operator %q requires a string field, %q is not", c.Operator, c.Field)
		}
	case OpIn, OpNotIn:
		if kind == KindTime || kind == KindBool {
			return errs.Validationf("operator %q requires a numeric or string field, %q is not", c.Operator, c.Field)
		}
	}
	return nil
}

// Match evaluates one condition against one record. The condition must have
// passed Validate for the same schema; an unknown operator still errors here
// rather than silently matching.
func Match(rec Record, c Condition, schema Schema) (bool, error) {
	kind, ok := schema[c.Field]
	if !ok {
		return false, errs.Validationf("unknown field %q", c.Field)
	}
	fn, ok := matchers[c.Operator]
	if !ok {
		return false, errs.Validationf("unknown operator %q", c.Operator)
	}
	return fn(rec, c, kind)
}

func matchEquals(rec Record, c Condition, kind FieldKind) (bool, error) {
	v, present := fieldValue(rec, c.Field)
	if !present {
		return false, nil
	}
	return scalarEqual(v, c.Value, kind)
}

func matchNotEquals(rec Record, c Condition, kind FieldKind) (bool, error) {
	v, present := fieldValue(rec, c.Field)
	if !present {
		return true, nil
	}
	eq, err := scalarEqual(v, c.Value, kind)
	if err != nil {
		return false, err
	}
	return !eq, nil
}

func matchGreaterThan(rec Record, c Condition, kind FieldKind) (bool, error) {
	return matchOrdered(rec, c, kind, func(cmp int) bool { return cmp > 0 })
}

func matchLessThan(rec Record, c Condition, kind FieldKind) (bool, error) {
	return matchOrdered(rec, c, kind, func(cmp int) bool { return cmp < 0 })
}

func matchOrdered(rec Record, c Condition, kind FieldKind, ok func(int) bool) (bool, error) {
	if kind != KindNumeric && kind != KindTime {
		return false, errs.Validationf("operator %q requires a numeric or date field, %q is not", c.Operator, c.Field)
	}
	v, present := fieldValue(rec, c.Field)
	if !present {
		return false, nil
	}

	if kind == KindTime {
		rt, err := asTime(v)
		if err != nil {
			return false, err
		}
		ct, err := asTime(c.Value)
		if err != nil {
			return false, err
		}
		return ok(rt.Compare(ct)), nil
	}

	rf, err := asFloat(v)
	if err != nil {
		return false, err
	}
	cf, err := asFloat(c.Value)
	if err != nil {
		return false, err
	}
	switch {
	case rf > cf:
		return ok(1), nil
	case rf < cf:
		return ok(-1), nil
	default:
		return ok(0), nil
	}
}

func matchContains(rec Record, c Condition, kind FieldKind) (bool, error) {
	if kind != KindText && kind != KindFreeText {
		return false, errs.Validationf("operator %q requires a string field, %q is not", c.Operator, c.Field)
	}
	v, present := fieldValue(rec, c.Field)
	if !present {
		return false, nil
	}
	rs, err := asString(v)
	if err != nil {
		return false, err
	}
	cs, err := asString(c.Value)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(rs), strings.ToLower(cs)), nil
}

func matchNotContains(rec Record, c Condition, kind FieldKind) (bool, error) {
	v, present := fieldValue(rec, c.Field)
	if !present {
		return true, nil
	}
	_ = v
	found, err := matchContains(rec, c, kind)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func matchIn(rec Record, c Condition, kind FieldKind) (bool, error) {
	v, present := fieldValue(rec, c.Field)
	if !present {
		return false, nil
	}
	items, err := valueList(c.Value)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		eq, err := scalarEqual(v, item, kind)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func matchNotIn(rec Record, c Condition, kind FieldKind) (bool, error) {
	v, present := fieldValue(rec, c.Field)
	if !present {
		return true, nil
	}
	_ = v
	found, err := matchIn(rec, c, kind)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func fieldValue(rec Record, field string) (any, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func scalarEqual(recordVal, condVal any, kind FieldKind) (bool, error) {
	switch kind {
	case KindNumeric:
		rf, err := asFloat(recordVal)
		if err != nil {
			return false, err
		}
		cf, err := asFloat(condVal)
		if err != nil {
			return false, err
		}
		return rf == cf, nil
	case KindTime:
		rt, err := asTime(recordVal)
		if err != nil {
			return false, err
		}
		ct, err := asTime(condVal)
		if err != nil {
			return false, err
		}
		return rt.Equal(ct), nil
	case KindBool:
		rb, err := asBool(recordVal)
		if err != nil {
			return false, err
		}
		cb, err := asBool(condVal)
		if err != nil {
			return false, err
		}
		return rb == cb, nil
	case KindFreeText:
		rs, err := asString(recordVal)
		if err != nil {
			return false, err
		}
		cs, err := asString(condVal)
		if err != nil {
			return false, err
		}
		return strings.EqualFold(rs, cs), nil
	default:
		rs, err := asString(recordVal)
		if err != nil {
			return false, err
		}
		cs, err := asString(condVal)
		if err != nil {
			return false, err
		}
		return rs == cs, nil
	}
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []float64, []int:
		return true
	}
	return false
}

func valueList(v any) ([]any, error) {
	switch vv := v.(type) {
	case []any:
		return vv, nil
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(vv))
		for i, f := range vv {
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]any, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out, nil
	}
	return nil, errs.Validationf("expected a list value, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch vv := v.(type) {
	case float64:
		return vv, nil
	case float32:
		return float64(vv), nil
	case int:
		return float64(vv), nil
	case int32:
		return float64(vv), nil
	case int64:
		return float64(vv), nil
	}
	return 0, errs.Validationf("expected a numeric value, got %T", v)
}

func asString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errs.Validationf("expected a string value, got %T", v)
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errs.Validationf("expected a boolean value, got %T", v)
}

func asTime(v any) (time.Time, error) {
	switch vv := v.(type) {
	case time.Time:
		return vv, nil
	case string:
		if t, err := time.Parse(time.RFC3339, vv); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", vv); err == nil {
			return t, nil
		}
		return time.Time{}, errs.Validationf("cannot parse %q as a date", vv)
	}
	return time.Time{}, errs.Validationf("expected a date value, got %T", v)
}
