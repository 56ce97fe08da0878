package store

import (
	"fmt"
	"reflect"
	"strings"
)

// matchDoc reports whether doc satisfies filter. An empty or nil filter
// matches everything.
func matchDoc(doc Doc, filter Filter) bool {
	for key, cond := range filter {
		if key == "$or" {
			if !matchOr(doc, cond) {
				return false
			}
			continue
		}
		if !matchField(doc, key, cond) {
			return false
		}
	}
	return true
}

func matchOr(doc Doc, cond any) bool {
	branches, ok := cond.([]Filter)
	if !ok {
		if raw, isRaw := cond.([]any); isRaw {
			for _, b := range raw {
				if f, isFilter := b.(map[string]any); isFilter && matchDoc(doc, f) {
					return true
				}
			}
			return false
		}
		return false
	}
	for _, b := range branches {
		if matchDoc(doc, b) {
			return true
		}
	}
	return false
}

func matchField(doc Doc, key string, cond any) bool {
	value, present := lookup(doc, key)

	if ops, ok := cond.(map[string]any); ok && hasOperator(ops) {
		for op, operand := range ops {
			if !applyOperator(value, present, op, operand) {
				return false
			}
		}
		return true
	}
	if !present {
		return cond == nil
	}
	return equal(value, cond)
}

func hasOperator(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func applyOperator(value any, present bool, op string, operand any) bool {
	switch op {
	case "$exists":
		want, _ := operand.(bool)
		return present == want
	case "$eq":
		return present && equal(value, operand)
	case "$ne":
		return !present || !equal(value, operand)
	case "$in":
		if !present {
			return false
		}
		items, ok := operand.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equal(value, item) {
				return true
			}
		}
		return false
	case "$lt", "$lte", "$gt", "$gte":
		if !present {
			return false
		}
		cmp, ok := compare(value, operand)
		if !ok {
			return false
		}
		switch op {
		case "$lt":
			return cmp < 0
		case "$lte":
			return cmp <= 0
		case "$gt":
			return cmp > 0
		default:
			return cmp >= 0
		}
	default:
		return false
	}
}

// lookup resolves dotted paths into nested maps.
func lookup(doc Doc, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func equal(a, b any) bool {
	if an, aok := asFloat(a); aok {
		bn, bok := asFloat(b)
		return bok && an == bn
	}
	if _, bok := asFloat(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// applyUpdate mutates doc in place with a $set/$unset/$inc update document.
func applyUpdate(doc Doc, update Doc) error {
	for op, operand := range update {
		fields, ok := operand.(map[string]any)
		if !ok {
			return fmt.Errorf("store: update operator %s requires a document", op)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				doc[k] = cloneValue(v)
			}
		case "$unset":
			for k := range fields {
				delete(doc, k)
			}
		case "$inc":
			for k, v := range fields {
				delta, ok := asFloat(v)
				if !ok {
					return fmt.Errorf("store: $inc value for %s is not numeric", k)
				}
				current, _ := asFloat(doc[k])
				doc[k] = int64(current + delta)
			}
		default:
			return fmt.Errorf("store: unsupported update operator %s", op)
		}
	}
	return nil
}

func cloneDoc(doc Doc) Doc {
	if doc == nil {
		return nil
	}
	out := make(Doc, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneDoc(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
