package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"storefront/internal/errs"
)

func TestCompileAllAndAny(t *testing.T) {
	rec := Record{"total_spent": 600.0, "city": "Lyon"}

	spent := Condition{Field: "total_spent", Operator: OpGreaterThan, Value: 500.0}
	city := Condition{Field: "city", Operator: OpEquals, Value: "Paris"}

	all, err := Compile(Criteria{Conditions: []Condition{spent, city}, MatchType: MatchAll}, testSchema)
	require.NoError(t, err)
	ok, err := all(rec)
	require.NoError(t, err)
	assert.False(t, ok, "all requires every condition")

	any, err := Compile(Criteria{Conditions: []Condition{spent, city}, MatchType: MatchAny}, testSchema)
	require.NoError(t, err)
	ok, err = any(rec)
	require.NoError(t, err)
	assert.True(t, ok, "any requires one condition")
}

func TestCompileSingleConditionBoundary(t *testing.T) {
	cr := Criteria{
		Conditions: []Condition{{Field: "total_spent", Operator: OpGreaterThan, Value: 500.0}},
		MatchType:  MatchAll,
	}
	pred, err := Compile(cr, testSchema)
	require.NoError(t, err)

	ok, err := pred(Record{"total_spent": 600.0})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pred(Record{"total_spent": 500.0})
	require.NoError(t, err)
	assert.False(t, ok, "greater_than is strict")
}

func TestCompileRejectsEmptyCriteria(t *testing.T) {
	_, err := Compile(Criteria{MatchType: MatchAll}, testSchema)
	assert.True(t, errs.IsValidation(err), "empty criteria must fail closed")

	_, err = Compile(Criteria{
		Conditions: []Condition{{Field: "city", Operator: OpEquals, Value: "Lyon"}},
		MatchType:  "some",
	}, testSchema)
	assert.True(t, errs.IsValidation(err))
}

// genCondition draws a valid condition over a small schema so criteria-level
// properties exercise every operator.
func genCondition(t *rapid.T) Condition {
	switch rapid.IntRange(0, 7).Draw(t, "op") {
	case 0:
		return Condition{Field: "total_spent", Operator: OpGreaterThan, Value: float64(rapid.IntRange(-5, 5).Draw(t, "v"))}
	case 1:
		return Condition{Field: "total_spent", Operator: OpLessThan, Value: float64(rapid.IntRange(-5, 5).Draw(t, "v"))}
	case 2:
		return Condition{Field: "total_spent", Operator: OpEquals, Value: float64(rapid.IntRange(-5, 5).Draw(t, "v"))}
	case 3:
		return Condition{Field: "city", Operator: OpNotEquals, Value: rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "v")}
	case 4:
		return Condition{Field: "city", Operator: OpContains, Value: rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "v")}
	case 5:
		return Condition{Field: "city", Operator: OpNotContains, Value: rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "v")}
	case 6:
		return Condition{Field: "city", Operator: OpIn, Value: []any{
			rapid.SampledFrom([]string{"aa", "bb", "cc"}).Draw(t, "v1"),
			rapid.SampledFrom([]string{"aa", "bb", "cc"}).Draw(t, "v2"),
		}}
	default:
		return Condition{Field: "city", Operator: OpNotIn, Value: []any{
			rapid.SampledFrom([]string{"aa", "bb", "cc"}).Draw(t, "v1"),
		}}
	}
}

func genRecord(t *rapid.T) Record {
	rec := Record{}
	if rapid.Bool().Draw(t, "has_spent") {
		rec["total_spent"] = float64(rapid.IntRange(-5, 5).Draw(t, "spent"))
	}
	if rapid.Bool().Draw(t, "has_city") {
		rec["city"] = rapid.SampledFrom([]string{"aa", "bb", "cc", "ab"}).Draw(t, "city")
	}
	return rec
}

// Property: "all" matches iff every condition matches individually, "any"
// iff at least one does.
func TestCompileAgreesWithPerConditionMatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(t, "n")
		conditions := make([]Condition, n)
		for i := range conditions {
			conditions[i] = genCondition(t)
		}
		rec := genRecord(t)

		everyOne, anyOne := true, false
		for _, c := range conditions {
			ok, err := Match(rec, c, testSchema)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			everyOne = everyOne && ok
			anyOne = anyOne || ok
		}

		for _, tc := range []struct {
			mt   MatchType
			want bool
		}{{MatchAll, everyOne}, {MatchAny, anyOne}} {
			pred, err := Compile(Criteria{Conditions: conditions, MatchType: tc.mt}, testSchema)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := pred(rec)
			if err != nil {
				t.Fatalf("predicate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("%s: got %v, want %v for %s", tc.mt, got, tc.want, fmt.Sprint(conditions))
			}
		}
	})
}
