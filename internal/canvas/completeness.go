package canvas

import "math"

const (
	weightCritical  = 60
	weightImportant = 30
	weightHelpful   = 10
)

type bucket struct{ complete, total int }

func (b bucket) ratio() float64 {
	if b.total == 0 {
		return 1
	}
	return float64(b.complete) / float64(b.total)
}

// Completeness scores a field set. A field is missing iff its status is empty
// or unset; its value is not inspected. A priority with no fields counts as
// fully complete.
func Completeness(fields Fields) Breakdown {
	var crit, imp, help bucket
	missing := make([]MissingField, 0)

	for _, tab := range TabOrder {
		for _, g := range fields[tab] {
			for _, f := range g.Fields {
				filled := f.Status != "" && f.Status != StatusEmpty
				var b *bucket
				switch f.Priority {
				case PriorityCritical:
					b = &crit
				case PriorityImportant:
					b = &imp
				default:
					b = &help
				}
				b.total++
				if filled {
					b.complete++
					continue
				}
				priority := f.Priority
				if priority == "" {
					priority = PriorityHelpful
				}
				missing = append(missing, MissingField{Field: f.ID, Label: f.Label, Priority: priority, Tab: tab})
			}
		}
	}

	score := math.Round(crit.ratio()*weightCritical + imp.ratio()*weightImportant + help.ratio()*weightHelpful)
	return Breakdown{
		Score:             int(score),
		CriticalComplete:  crit.complete,
		CriticalTotal:     crit.total,
		ImportantComplete: imp.complete,
		ImportantTotal:    imp.total,
		HelpfulComplete:   help.complete,
		HelpfulTotal:      help.total,
		MissingFields:     missing,
	}
}

// TabSummaries returns the tab headers with missing critical and important
// counts taken from the breakdown.
func TabSummaries(b Breakdown) []Tab {
	tabs := TabHeaders()
	pos := make(map[TabID]int, len(tabs))
	for i, t := range tabs {
		pos[t.ID] = i
	}
	for _, m := range b.MissingFields {
		i, ok := pos[m.Tab]
		if !ok {
			continue
		}
		switch m.Priority {
		case PriorityCritical:
			tabs[i].MissingCritical++
		case PriorityImportant:
			tabs[i].MissingImportant++
		}
	}
	return tabs
}
