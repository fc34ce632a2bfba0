package catalog

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Condition matches one entity field. An empty Values list only requires
// the field to exist.
type Condition struct {
	Key    string
	Values []string
}

// Filter is a conjunction of conditions
type Filter []Condition

// ParseFilter parses "kind=component,spec.type=service,metadata.annotations.x"
func ParseFilter(raw string) (Filter, error) {
	index := make(map[string]int)
	var out Filter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, fmt.Errorf("invalid filter %q", raw)
		}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Condition{Key: key})
		}
		if hasValue {
			out[i].Values = append(out[i].Values, strings.ToLower(strings.TrimSpace(value)))
		}
	}
	return out, nil
}

// Matches reports whether every condition holds for e
func (f Filter) Matches(e *Entity) bool {
	var tree map[string]interface{}
	for _, cond := range f {
		var values []string
		if rel, ok := strings.CutPrefix(cond.Key, "relations."); ok {
			for _, r := range e.Relations {
				if strings.EqualFold(r.Type, rel) {
					values = append(values, strings.ToLower(r.TargetRef))
				}
			}
		} else {
			if tree == nil {
				raw, err := sonic.Marshal(e)
				if err != nil {
					return false
				}
				if err := sonic.Unmarshal(raw, &tree); err != nil {
					return false
				}
			}
			values = lookup(tree, strings.Split(cond.Key, "."))
		}
		if !conditionHolds(cond, values) {
			return false
		}
	}
	return true
}

func conditionHolds(cond Condition, values []string) bool {
	if len(values) == 0 {
		return false
	}
	if len(cond.Values) == 0 {
		return true
	}
	for _, want := range cond.Values {
		for _, got := range values {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

// lookup walks a decoded tree. Keys may themselves contain dots, as in
// annotation names, so the longest matching key wins.
func lookup(v interface{}, parts []string) []string {
	if len(parts) == 0 {
		return leafValues(v)
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for i := len(parts); i >= 1; i-- {
			key := strings.Join(parts[:i], ".")
			for k, child := range t {
				if strings.EqualFold(k, key) {
					if found := lookup(child, parts[i:]); len(found) > 0 {
						return found
					}
				}
			}
		}
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, lookup(item, parts)...)
		}
		return out
	}
	return nil
}

func leafValues(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, leafValues(item)...)
		}
		return out
	case map[string]interface{}:
		return []string{""}
	default:
		return []string{fmt.Sprint(t)}
	}
}
