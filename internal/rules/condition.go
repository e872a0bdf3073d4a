package rules

import "strings"

// Evaluate walks a condition tree against the flat event context and returns
// whether the rule matches. The evaluator fails closed: unknown operators,
// unknown fields, missing values and type mismatches all yield false, never
// an error, so one misconfigured rule cannot abort a runner batch.
func Evaluate(cond Condition, ctx map[string]interface{}) bool {
	switch cond.Op {
	case OpAll:
		for _, c := range cond.Conditions {
			if !Evaluate(c, ctx) {
				return false
			}
		}
		return true
	case OpAny:
		for _, c := range cond.Conditions {
			if Evaluate(c, ctx) {
				return true
			}
		}
		return false
	case OpEquals:
		return equalValues(lookup(cond, ctx))
	case OpNotEquals:
		val, want, ok := lookup(cond, ctx)
		if !ok {
			return false
		}
		return !equalValues(val, want, true)
	case OpContains:
		return stringOp(cond, ctx, strings.Contains)
	case OpNotContains:
		s, sub, ok := stringOperands(cond, ctx)
		if !ok {
			return false
		}
		return !strings.Contains(s, sub)
	case OpStartsWith:
		return stringOp(cond, ctx, strings.HasPrefix)
	case OpEndsWith:
		return stringOp(cond, ctx, strings.HasSuffix)
	case OpPresent:
		if !IsContextField(cond.Field) {
			return false
		}
		val, ok := ctx[cond.Field]
		if !ok || val == nil {
			return false
		}
		s, isStr := val.(string)
		return !isStr || s != ""
	default:
		return false
	}
}

func lookup(cond Condition, ctx map[string]interface{}) (interface{}, interface{}, bool) {
	if !IsContextField(cond.Field) {
		return nil, nil, false
	}
	val, ok := ctx[cond.Field]
	if !ok {
		return nil, nil, false
	}
	return val, cond.Value, true
}

// equalValues compares without type coercion: a string never equals a
// number, a bool never equals a string. JSON numbers arrive as float64 on
// both sides, so numeric comparison stays exact within that type.
func equalValues(val, want interface{}, ok bool) bool {
	if !ok {
		return false
	}
	switch v := val.(type) {
	case string:
		w, isStr := want.(string)
		return isStr && v == w
	case float64:
		w, isNum := want.(float64)
		return isNum && v == w
	case bool:
		w, isBool := want.(bool)
		return isBool && v == w
	case nil:
		return want == nil
	default:
		return false
	}
}

func stringOperands(cond Condition, ctx map[string]interface{}) (string, string, bool) {
	val, want, ok := lookup(cond, ctx)
	if !ok {
		return "", "", false
	}
	s, isStr := val.(string)
	sub, wantStr := want.(string)
	if !isStr || !wantStr {
		return "", "", false
	}
	return s, sub, true
}

func stringOp(cond Condition, ctx map[string]interface{}, fn func(string, string) bool) bool {
	s, sub, ok := stringOperands(cond, ctx)
	if !ok {
		return false
	}
	return fn(s, sub)
}
