package docstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ConstraintKind tells which part of a query a Constraint describes.
type ConstraintKind string

const (
	KindWhere   ConstraintKind = "where"
	KindOrderBy ConstraintKind = "orderBy"
	KindLimit   ConstraintKind = "limit"
)

// Op is a comparison operator of a where constraint.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

var allOps = []Op{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn, OpArrayContains}

// Constraint is a single predicate, ordering or limit of a query.
type Constraint struct {
	Kind       ConstraintKind `json:"kind"`
	Field      string         `json:"field,omitempty"`
	Op         Op             `json:"op,omitempty"`
	Value      any            `json:"value"`
	Descending bool           `json:"desc,omitempty"`
	Limit      int            `json:"limit,omitempty"`
}

// Where filters documents on `field op value`.
func Where(field string, op Op, value any) Constraint {
	return Constraint{Kind: KindWhere, Field: field, Op: op, Value: value}
}

// OrderBy sorts documents on `field`. Multiple orderings apply in order.
func OrderBy(field string, descending bool) Constraint {
	return Constraint{Kind: KindOrderBy, Field: field, Descending: descending}
}

// Limit keeps at most `n` documents.
func Limit(n int) Constraint {
	return Constraint{Kind: KindLimit, Limit: n}
}

// Constraints is the ordered list of constraints of a query.
type Constraints []Constraint

// Key returns a deterministic serialization of the constraints, usable as part of a cache key.
func (c Constraints) Key() string {
	if len(c) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(c)
	if err != nil { // Values came from code or JSON, so this would be a bug.
		slog.Error("Failed to serialize query constraints.", "error", err)
		return fmt.Sprintf("%v", []Constraint(c))
	}
	return string(encoded)
}

// Validate checks the constraints are well-formed.
func (c Constraints) Validate() error {
	for i, constraint := range c {
		switch constraint.Kind {
		case KindWhere:
			if constraint.Field == "" {
				return fmt.Errorf("constraint %d: where without field", i)
			}
			if !slices.Contains(allOps, constraint.Op) {
				return fmt.Errorf("constraint %d: unknown operator '%s'", i, constraint.Op)
			}
			if constraint.Op == OpIn {
				if _, isList := constraint.Value.([]any); !isList {
					return fmt.Errorf("constraint %d: 'in' expects a list value", i)
				}
			}
		case KindOrderBy:
			if constraint.Field == "" {
				return fmt.Errorf("constraint %d: orderBy without field", i)
			}
		case KindLimit:
			if constraint.Limit < 0 {
				return fmt.Errorf("constraint %d: negative limit %d", i, constraint.Limit)
			}
		default:
			return fmt.Errorf("constraint %d: unknown kind '%s'", i, constraint.Kind)
		}
	}
	return nil
}

// ParseConstraints decodes constraints from their JSON form, e.g. `[{"kind":"where","field":"city",...}]`.
func ParseConstraints(raw string) (Constraints, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var constraints Constraints
	if err := json.Unmarshal([]byte(raw), &constraints); err != nil {
		return nil, fmt.Errorf("failed to parse constraints: %w", err)
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	return constraints, nil
}
