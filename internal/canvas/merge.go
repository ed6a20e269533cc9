package canvas

// UpdateField applies one user edit. The first field with id fieldID gets
// value and status user-edited. Only the chain leading to that field is
// copied (tab map, the tab's group slice, the group's field slice); every
// other group is shared with the input, which is never mutated. An unknown
// id returns fields unchanged.
func UpdateField(fields Fields, fieldID string, value any) Fields {
	for _, tab := range TabOrder {
		groups := fields[tab]
		for gi, g := range groups {
			for fi, f := range g.Fields {
				if f.ID != fieldID {
					continue
				}

				f.Value = cloneValue(value)
				f.Status = StatusUserEdited

				nf := make([]Field, len(g.Fields))
				copy(nf, g.Fields)
				nf[fi] = f

				ng := make([]Group, len(groups))
				copy(ng, groups)
				ng[gi].Fields = nf

				out := make(Fields, len(fields))
				for k, v := range fields {
					out[k] = v
				}
				out[tab] = ng
				return out
			}
		}
	}
	return fields
}

// FindField returns the first field with the given id.
func FindField(fields Fields, fieldID string) (Field, bool) {
	for _, tab := range TabOrder {
		for _, g := range fields[tab] {
			for _, f := range g.Fields {
				if f.ID == fieldID {
					return f, true
				}
			}
		}
	}
	return Field{}, false
}

// FieldValue returns the value of a field, or nil when it does not exist.
func FieldValue(fields Fields, fieldID string) any {
	f, _ := FindField(fields, fieldID)
	return f.Value
}
