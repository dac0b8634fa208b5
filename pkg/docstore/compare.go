package docstore

import (
	"cmp"
	"reflect"
)

// toFloat converts every numeric type to float64; documents decoded from JSON already use float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// typeRank orders values of different types: nil < bool < number < string < everything else.
func typeRank(v any) int {
	if v == nil {
		return 0
	}
	if _, isBool := v.(bool); isBool {
		return 1
	}
	if _, isNumber := toFloat(v); isNumber {
		return 2
	}
	if _, isString := v.(string); isString {
		return 3
	}
	return 4
}

// compareValues is a three-way comparison of two document values. Values of different types are ordered by
// typeRank; lists and maps of the same rank compare equal.
func compareValues(a, b any) int {
	if rankCmp := cmp.Compare(typeRank(a), typeRank(b)); rankCmp != 0 {
		return rankCmp
	}
	switch typeRank(a) {
	case 1:
		ab, bb := a.(bool), b.(bool)
		if ab == bb {
			return 0
		} else if !ab {
			return -1
		}
		return 1
	case 2:
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return cmp.Compare(af, bf)
	case 3:
		return cmp.Compare(a.(string), b.(string))
	default:
		return 0
	}
}

// valuesEqual reports whether two document values are equal, treating all numeric types alike.
func valuesEqual(a, b any) bool {
	af, aIsNumber := toFloat(a)
	bf, bIsNumber := toFloat(b)
	if aIsNumber && bIsNumber {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// matches evaluates a where constraint against a document.
func (c Constraint) matches(doc Document) bool {
	fieldValue, exists := doc[c.Field]
	switch c.Op {
	case OpEqual:
		return exists && valuesEqual(fieldValue, c.Value)
	case OpNotEqual:
		return exists && !valuesEqual(fieldValue, c.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		// Range filters only match values of the same type, like most document stores.
		if !exists || typeRank(fieldValue) != typeRank(c.Value) {
			return false
		}
		order := compareValues(fieldValue, c.Value)
		switch c.Op {
		case OpLess:
			return order < 0
		case OpLessEqual:
			return order <= 0
		case OpGreater:
			return order > 0
		default:
			return order >= 0
		}
	case OpIn:
		candidates, _ := c.Value.([]any)
		for _, candidate := range candidates {
			if exists && valuesEqual(fieldValue, candidate) {
				return true
			}
		}
		return false
	case OpArrayContains:
		items, isList := fieldValue.([]any)
		if !isList {
			return false
		}
		for _, item := range items {
			if valuesEqual(item, c.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
