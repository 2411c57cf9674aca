package flow

import (
	"strconv"
	"strings"

	"github.com/jmorenobl/soni/dialogue"
)

// EvalCondition evaluates a guard expression against a flow instance's
// slots. The grammar is deliberately small — the shapes flow authors
// actually write:
//
//	slot                  truthy test
//	!slot                 negated truthy test
//	slot == literal       equality (also !=, <, <=, >, >=)
//
// Literals may be quoted strings, numbers, true or false. Comparisons are
// numeric when both sides parse as numbers, string-wise otherwise. A missing
// slot is falsy and compares as the empty string.
func EvalCondition(expr string, slots dialogue.Slots) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if idx := strings.Index(expr, op); idx > 0 {
			left := resolveOperand(strings.TrimSpace(expr[:idx]), slots)
			right := resolveOperand(strings.TrimSpace(expr[idx+len(op):]), slots)
			return compare(left, right, op)
		}
	}

	if strings.HasPrefix(expr, "!") {
		return !truthy(slots[strings.TrimSpace(expr[1:])])
	}
	return truthy(slots[expr])
}

// resolveOperand interprets one side of a comparison: a quoted string or
// number is a literal, true/false are booleans, anything else is a slot name.
func resolveOperand(token string, slots dialogue.Slots) interface{} {
	if len(token) >= 2 && (token[0] == '"' || token[0] == '\'') && token[len(token)-1] == token[0] {
		return token[1 : len(token)-1]
	}
	if token == "true" {
		return true
	}
	if token == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n
	}
	return slots[token]
}

func compare(left, right interface{}, op string) bool {
	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn
		case "!=":
			return ln != rn
		case "<":
			return ln < rn
		case "<=":
			return ln <= rn
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		}
		return false
	}

	ls := asString(left)
	rs := asString(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}
