// internal/rules/criteria.go
package rules

import (
	"storefront/internal/errs"
)

// MatchType selects how a criteria's conditions combine.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Criteria is a non-empty list of conditions combined with ALL or ANY
// semantics. An empty criteria is invalid and matches nothing: membership
// rules fail closed.
type Criteria struct {
	Conditions []Condition `json:"conditions"`
	MatchType  MatchType   `json:"match_type"`
}

// Predicate tests a single record against compiled criteria.
type Predicate func(Record) (bool, error)

// Validate rejects malformed criteria before anything is compiled or stored.
func (cr Criteria) Validate(schema Schema) error {
	if cr.MatchType != MatchAll && cr.MatchType != MatchAny {
		return errs.Validationf("unknown match_type %q", cr.MatchType)
	}
	if len(cr.Conditions) == 0 {
		return errs.Validationf("criteria requires at least one condition")
	}
	for i, c := range cr.Conditions {
		if err := c.Validate(schema); err != nil {
			return errs.Validationf("condition %d: %v", i, err)
		}
	}
	return nil
}

// Compile turns criteria into an in-memory predicate: AND of all condition
// matches for "all", OR for "any". Must stay equivalent to SQLFilter for
// every record; the bulk query path and the preview path may never diverge.
func Compile(cr Criteria, schema Schema) (Predicate, error) {
	if err := cr.Validate(schema); err != nil {
		return nil, err
	}

	conditions := cr.Conditions
	if cr.MatchType == MatchAll {
		return func(rec Record) (bool, error) {
			for _, c := range conditions {
				ok, err := Match(rec, c, schema)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		}, nil
	}

	return func(rec Record) (bool, error) {
		for _, c := range conditions {
			ok, err := Match(rec, c, schema)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}, nil
}
