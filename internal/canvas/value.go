package canvas

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// IsEmpty reports whether v carries no information: nil, "", or an empty
// slice or map. false and 0 are values.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = cloneValue(val)
		}
		return out
	}
	return v
}

var (
	dotThousands   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	commaThousands = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// ParseAmount reads a numeric budget signal from a number or a loosely
// formatted string such as "€50.000", "50,000 EUR" or "12500.50".
func ParseAmount(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		return parseAmountString(x)
	}
	return 0, false
}

func parseAmountString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	for _, sym := range []string{"€", "$", "£", "EUR", "USD", "GBP", "CHF", " ", "\u00a0"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	if s == "" {
		return 0, false
	}
	switch {
	case dotThousands.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	case commaThousands.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Contains(s, ".") && strings.Contains(s, ","):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Contains(s, ","):
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// asString returns v as a trimmed string when it is one.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// asStrings flattens a string list held as []string or []any.
func asStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}
