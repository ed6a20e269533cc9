package canvas

import "sort"

// Brief is the flat, agent-native shape of a licensing brief. Keys are canvas
// field ids (client_name, budget_amount, deadline_date, ...).
type Brief map[string]any

// Clone returns a deep copy of b.
func (b Brief) Clone() Brief {
	if b == nil {
		return nil
	}
	out := make(Brief, len(b))
	for k, v := range b {
		out[k] = cloneValue(v)
	}
	return out
}

// Compact returns a copy without keys whose value carries no information.
func (b Brief) Compact() Brief {
	out := make(Brief, len(b))
	for k, v := range b {
		if !IsEmpty(v) {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// String returns the trimmed string at key, or "".
func (b Brief) String(key string) string {
	s, _ := asString(b[key])
	return s
}

// Strings returns the string list at key.
func (b Brief) Strings(key string) []string {
	return asStrings(b[key])
}

// Amount returns the numeric value at key.
func (b Brief) Amount(key string) (float64, bool) {
	return ParseAmount(b[key])
}

// Bool returns the boolean at key and whether one was present.
func (b Brief) Bool(key string) (bool, bool) {
	v, ok := b[key].(bool)
	return v, ok
}

// Keys returns the keys of b, sorted.
func (b Brief) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyBrief merges every informative brief value into a copy of fields,
// stamping each touched field with status. Values that are nil, "" or an
// empty list are skipped; keys without a matching field are ignored.
func ApplyBrief(fields Fields, brief Brief, status FieldStatus) Fields {
	out := cloneFields(fields)
	if len(brief) == 0 {
		return out
	}
	for _, groups := range out {
		for gi := range groups {
			for fi := range groups[gi].Fields {
				f := &groups[gi].Fields[fi]
				v, ok := brief[f.ID]
				if !ok || IsEmpty(v) {
					continue
				}
				f.Value = coerce(f.Type, cloneValue(v))
				f.Status = status
			}
		}
	}
	for _, groups := range out {
		for gi := range groups {
			for fi := range groups[gi].Fields {
				f := &groups[gi].Fields[fi]
				if f.FilledWith == "" || f.Status != StatusEmpty {
					continue
				}
				if v, ok := brief[f.FilledWith]; ok && !IsEmpty(v) {
					f.Status = status
				}
			}
		}
	}
	return out
}

// BriefFromFields is the inverse of ApplyBrief: every field whose status is
// not empty contributes its value under its id.
func BriefFromFields(fields Fields) Brief {
	out := make(Brief)
	for _, groups := range fields {
		for _, g := range groups {
			for _, f := range g.Fields {
				if f.Status == "" || f.Status == StatusEmpty {
					continue
				}
				out[f.ID] = cloneValue(f.Value)
			}
		}
	}
	return out
}

// DateFieldIDs lists template fields of type date.
func DateFieldIDs() []string {
	var ids []string
	t := defaultTemplate()
	for _, id := range t.ids {
		if f, ok := FindField(t.fields, id); ok && f.Type == FieldDate {
			ids = append(ids, id)
		}
	}
	return ids
}

func coerce(t FieldType, v any) any {
	switch t {
	case FieldCurrency:
		if f, ok := ParseAmount(v); ok {
			return f
		}
	case FieldBoolean:
		if s, ok := v.(string); ok {
			switch s {
			case "true", "yes", "Yes", "ja":
				return true
			case "false", "no", "No", "nein":
				return false
			}
		}
	}
	return v
}
