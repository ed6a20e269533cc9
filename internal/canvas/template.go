package canvas

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed template.yaml
var templateYAML []byte

type templateTab struct {
	ID          TabID   `yaml:"id"`
	Label       string  `yaml:"label"`
	Description string  `yaml:"description"`
	Groups      []Group `yaml:"groups"`
}

type templateDoc struct {
	Tabs []templateTab `yaml:"tabs"`
}

type location struct {
	tab   TabID
	group string
}

type fieldTemplate struct {
	fields Fields
	tabs   []Tab
	ids    []string
	index  map[string]location
}

var (
	loadOnce sync.Once
	loaded   *fieldTemplate
)

func defaultTemplate() *fieldTemplate {
	loadOnce.Do(func() {
		t, err := parseTemplate(templateYAML)
		if err != nil {
			panic(fmt.Sprintf("canvas: embedded template: %v", err))
		}
		loaded = t
	})
	return loaded
}

func parseTemplate(data []byte) (*fieldTemplate, error) {
	var doc templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	t := &fieldTemplate{
		fields: make(Fields, len(doc.Tabs)),
		index:  make(map[string]location),
	}
	seenTabs := make(map[TabID]bool)
	for _, tab := range doc.Tabs {
		if seenTabs[tab.ID] {
			return nil, fmt.Errorf("duplicate tab %q", tab.ID)
		}
		seenTabs[tab.ID] = true
		seenGroups := make(map[string]bool)
		for gi := range tab.Groups {
			g := &tab.Groups[gi]
			if seenGroups[g.Key] {
				return nil, fmt.Errorf("duplicate group %s.%s", tab.ID, g.Key)
			}
			seenGroups[g.Key] = true
			for fi := range g.Fields {
				f := &g.Fields[fi]
				if f.ID == "" {
					return nil, fmt.Errorf("field without id in %s.%s", tab.ID, g.Key)
				}
				if _, dup := t.index[f.ID]; dup {
					return nil, fmt.Errorf("duplicate field id %q", f.ID)
				}
				if f.Status == "" {
					f.Status = StatusEmpty
				}
				f.Value = normalizeNumbers(f.Value)
				if f.DependsOn != nil {
					f.DependsOn.Value = normalizeNumbers(f.DependsOn.Value)
				}
				t.index[f.ID] = location{tab: tab.ID, group: g.Key}
				t.ids = append(t.ids, f.ID)
			}
		}
		t.fields[tab.ID] = tab.Groups
		t.tabs = append(t.tabs, Tab{ID: tab.ID, Label: tab.Label, Description: tab.Description})
	}
	for _, id := range TabOrder {
		if !seenTabs[id] {
			return nil, fmt.Errorf("missing tab %q", id)
		}
	}
	return t, nil
}

// Template returns a deep clone of the default field template.
func Template() Fields {
	return cloneFields(defaultTemplate().fields)
}

// TabHeaders returns the tab headers with zeroed badges.
func TabHeaders() []Tab {
	src := defaultTemplate().tabs
	out := make([]Tab, len(src))
	copy(out, src)
	return out
}

// FieldIDs lists every template field id in tab/group/field order.
func FieldIDs() []string {
	src := defaultTemplate().ids
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Locate returns the tab and group a template field lives in.
func Locate(fieldID string) (TabID, string, bool) {
	loc, ok := defaultTemplate().index[fieldID]
	return loc.tab, loc.group, ok
}

func cloneFields(src Fields) Fields {
	out := make(Fields, len(src))
	for tab, groups := range src {
		ng := make([]Group, len(groups))
		for gi, g := range groups {
			nf := make([]Field, len(g.Fields))
			for fi, f := range g.Fields {
				f.Value = cloneValue(f.Value)
				nf[fi] = f
			}
			ng[gi] = Group{Key: g.Key, Label: g.Label, Fields: nf}
		}
		out[tab] = ng
	}
	return out
}

// normalizeNumbers turns YAML integers into float64 so template values compare
// equal to values decoded from JSON.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	}
	return v
}
