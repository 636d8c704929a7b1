// internal/rules/filter.go
package rules

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"storefront/internal/errs"
)

// SQLFilter compiles criteria into a parameterized WHERE fragment plus its
// argument list, for bulk evaluation against the full table. Field names are
// restricted to schema keys, and every value travels as a bind parameter, so
// no request data is ever spliced into the query text.
//
// "all" joins with AND, "any" with OR. NULL columns are handled explicitly
// on the negated operators so a row with a missing value satisfies
// not_equals/not_contains/not_in here exactly as it does in Match.
func SQLFilter(cr Criteria, schema Schema) (string, []any, error) {
	if err := cr.Validate(schema); err != nil {
		return "", nil, err
	}

	parts := make([]string, 0, len(cr.Conditions))
	args := make([]any, 0, len(cr.Conditions))

	for _, c := range cr.Conditions {
		part, condArgs, err := conditionSQL(c, schema[c.Field], len(args))
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+part+")")
		args = append(args, condArgs...)
	}

	joiner := " AND "
	if cr.MatchType == MatchAny {
		joiner = " OR "
	}
	return strings.Join(parts, joiner), args, nil
}

func conditionSQL(c Condition, kind FieldKind, argOffset int) (string, []any, error) {
	next := func(i int) string { return fmt.Sprintf("$%d", argOffset+i+1) }

	switch c.Operator {
	case OpEquals:
		arg, err := bindScalar(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		if kind == KindFreeText {
			return fmt.Sprintf("LOWER(%s) = LOWER(%s)", c.Field, next(0)), []any{arg}, nil
		}
		return fmt.Sprintf("%s = %s", c.Field, next(0)), []any{arg}, nil

	case OpNotEquals:
		arg, err := bindScalar(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		if kind == KindFreeText {
			return fmt.Sprintf("%s IS NULL OR LOWER(%s) <> LOWER(%s)", c.Field, c.Field, next(0)), []any{arg}, nil
		}
		return fmt.Sprintf("%s IS DISTINCT FROM %s", c.Field, next(0)), []any{arg}, nil

	case OpGreaterThan:
		arg, err := bindScalar(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s > %s", c.Field, next(0)), []any{arg}, nil

	case OpLessThan:
		arg, err := bindScalar(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s < %s", c.Field, next(0)), []any{arg}, nil

	case OpContains:
		s, err := asString(c.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s ILIKE %s", c.Field, next(0)), []any{likePattern(s)}, nil

	case OpNotContains:
		s, err := asString(c.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s IS NULL OR %s NOT ILIKE %s", c.Field, c.Field, next(0)), []any{likePattern(s)}, nil

	case OpIn:
		arr, lowered, err := bindList(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		if lowered {
			return fmt.Sprintf("LOWER(%s) = ANY(%s)", c.Field, next(0)), []any{arr}, nil
		}
		return fmt.Sprintf("%s = ANY(%s)", c.Field, next(0)), []any{arr}, nil

	case OpNotIn:
		arr, lowered, err := bindList(c.Value, kind)
		if err != nil {
			return "", nil, err
		}
		if lowered {
			return fmt.Sprintf("%s IS NULL OR NOT (LOWER(%s) = ANY(%s))", c.Field, c.Field, next(0)), []any{arr}, nil
		}
		return fmt.Sprintf("%s IS NULL OR NOT (%s = ANY(%s))", c.Field, c.Field, next(0)), []any{arr}, nil
	}

	return "", nil, errs.Validationf("unknown operator %q", c.Operator)
}

// bindScalar normalizes a condition value into a driver-friendly argument.
func bindScalar(v any, kind FieldKind) (any, error) {
	switch kind {
	case KindNumeric:
		return asFloat(v)
	case KindTime:
		return asTime(v)
	case KindBool:
		return asBool(v)
	default:
		return asString(v)
	}
}

// bindList normalizes a list value into a typed pq.Array argument. Free-text
// lists are lowercased so the column side can be compared with LOWER().
func bindList(v any, kind FieldKind) (any, bool, error) {
	items, err := valueList(v)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, errs.Validationf("list value must not be empty")
	}

	switch kind {
	case KindNumeric:
		out := make([]float64, len(items))
		for i, item := range items {
			f, err := asFloat(item)
			if err != nil {
				return nil, false, err
			}
			out[i] = f
		}
		return pq.Array(out), false, nil
	case KindFreeText:
		out := make([]string, len(items))
		for i, item := range items {
			s, err := asString(item)
			if err != nil {
				return nil, false, err
			}
			out[i] = strings.ToLower(s)
		}
		return pq.Array(out), true, nil
	default:
		out := make([]string, len(items))
		for i, item := range items {
			s, err := asString(item)
			if err != nil {
				return nil, false, err
			}
			out[i] = s
		}
		return pq.Array(out), false, nil
	}
}

// likePattern escapes LIKE metacharacters and wraps the term for substring
// search.
func likePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return "%" + s + "%"
}
