package canvas

import "strconv"

// recordBinding ties a stored brief column to its flat brief key. Brief is
// empty for columns the canvas never shows. Aliases are extra request keys
// accepted for the column, tried after the column name itself.
type recordBinding struct {
	Record  string
	Brief   string
	Aliases []string
	Date    bool
}

var recordBindings = []recordBinding{
	// business
	{Record: "client", Brief: "client_name"},
	{Record: "agency", Brief: "agency_name"},
	{Record: "brand", Brief: "brand_name"},
	{Record: "project_title", Brief: "project_title"},
	{Record: "brief_sender_name", Brief: "brief_sender_name"},
	{Record: "brief_sender_email", Brief: "brief_sender_email"},
	{Record: "brief_sender_role", Brief: "brief_sender_role"},
	{Record: "territory", Brief: "territory"},
	{Record: "media", Brief: "media_types"},
	{Record: "term", Brief: "term_length"},
	{Record: "exclusivity", Brief: "exclusivity"},
	{Record: "exclusivity_details", Brief: "exclusivity_details"},
	{Record: "budget_min", Brief: "budget_amount"},
	{Record: "budget_max"},
	{Record: "budget_raw"},
	{Record: "budget_currency", Brief: "budget_currency"},
	// creative
	{Record: "creative_direction", Brief: "creative_direction"},
	{Record: "mood", Aliases: []string{"creative_direction"}},
	{Record: "keywords", Brief: "mood_keywords"},
	{Record: "genres", Brief: "genre_preferences"},
	{Record: "mood_descriptors"},
	{Record: "reference_tracks", Brief: "reference_tracks"},
	{Record: "instruments"},
	{Record: "vocals_preference", Brief: "vocals_preference"},
	{Record: "must_avoid", Brief: "must_avoid"},
	{Record: "lyrics_requirements"},
	// technical
	{Record: "lengths", Brief: "video_lengths"},
	{Record: "cutdowns"},
	{Record: "stems_required", Brief: "stems_required"},
	{Record: "sync_points", Brief: "sync_points"},
	// context
	{Record: "campaign_context", Brief: "campaign_context"},
	{Record: "target_audience", Brief: "target_audience"},
	{Record: "brand_values", Brief: "brand_values"},
	// timeline
	{Record: "submission_deadline", Brief: "deadline_date", Date: true},
	{Record: "first_presentation_date", Brief: "first_presentation_date", Date: true},
	{Record: "ppm_date", Date: true},
	{Record: "shoot_date", Date: true},
	{Record: "offline_date", Date: true},
	{Record: "online_date", Date: true},
	{Record: "air_date", Brief: "air_date", Date: true},
	{Record: "deadline_urgency", Brief: "deadline_urgency"},
	// source and extraction metadata
	{Record: "raw_brief_text"},
	{Record: "brief_source"},
	{Record: "extraction_status"},
	{Record: "brief_quality"},
	{Record: "completion_rate", Aliases: []string{"completeness"}},
	{Record: "missing_information"},
}

// recordIndex lists every stored column: the table above plus canvas-only
// fields, which are stored under their own field id.
type recordIndex struct {
	bindings []recordBinding
	byRecord map[string]recordBinding
	byBrief  map[string]recordBinding
	dateKeys []string
}

var records = buildRecordIndex()

func buildRecordIndex() *recordIndex {
	idx := &recordIndex{
		byRecord: make(map[string]recordBinding),
		byBrief:  make(map[string]recordBinding),
	}
	add := func(b recordBinding) {
		if _, dup := idx.byRecord[b.Record]; dup {
			return
		}
		if b.Brief != "" && b.Brief != b.Record {
			b.Aliases = append([]string{b.Brief}, b.Aliases...)
		}
		idx.bindings = append(idx.bindings, b)
		idx.byRecord[b.Record] = b
		if b.Brief != "" {
			idx.byBrief[b.Brief] = b
		}
		if b.Date {
			idx.dateKeys = append(idx.dateKeys, b.Record)
		}
	}
	for _, b := range recordBindings {
		add(b)
	}
	t := defaultTemplate()
	for _, id := range t.ids {
		if _, mapped := idx.byBrief[id]; mapped {
			continue
		}
		f, _ := FindField(t.fields, id)
		add(recordBinding{Record: id, Brief: id, Date: f.Type == FieldDate})
	}
	return idx
}

// RecordDateKeys lists stored columns that hold calendar dates.
func RecordDateKeys() []string {
	out := make([]string, len(records.dateKeys))
	copy(out, records.dateKeys)
	return out
}

// IsRecordKey reports whether key is a stored brief column.
func IsRecordKey(key string) bool {
	_, ok := records.byRecord[key]
	return ok
}

// BriefFromRecord maps a stored brief row onto the flat brief. Creative
// direction falls back to the legacy mood column and the title falls back to
// caseTitle.
func BriefFromRecord(record map[string]any, caseTitle string) Brief {
	out := make(Brief)
	for _, b := range records.bindings {
		if b.Brief == "" {
			continue
		}
		if v, ok := record[b.Record]; ok && !IsEmpty(v) {
			out[b.Brief] = cloneValue(v)
		}
	}
	if IsEmpty(out["creative_direction"]) {
		if v := record["mood"]; !IsEmpty(v) {
			out["creative_direction"] = cloneValue(v)
		}
	}
	if IsEmpty(out["project_title"]) && caseTitle != "" {
		out["project_title"] = caseTitle
	}
	return out
}

// RecordPatchFromBrief maps a flat brief onto stored columns. Keys absent from
// the brief are absent from the patch.
func RecordPatchFromBrief(b Brief) map[string]any {
	out := make(map[string]any)
	for _, rb := range records.bindings {
		if rb.Brief == "" {
			continue
		}
		if v, ok := b[rb.Brief]; ok && v != nil {
			out[rb.Record] = cloneValue(v)
		}
	}
	if v, ok := out["creative_direction"]; ok {
		out["mood"] = v
	}
	if amount, ok := b.Amount("budget_amount"); ok {
		out["budget_min"] = amount
		out["budget_raw"] = strconv.FormatFloat(amount, 'f', -1, 64)
	}
	return out
}

// NormalizeRecordPatch turns a loosely keyed update body into stored columns.
// Each column takes the first informative value among its own key and its
// aliases, falling back to a present-but-empty value under the same keys.
// Keys that are not stored columns are dropped, as are nil values.
func NormalizeRecordPatch(body map[string]any) map[string]any {
	out := make(map[string]any)
	for _, b := range records.bindings {
		keys := append([]string{b.Record}, b.Aliases...)
		var (
			chosen any
			found  bool
		)
		for _, k := range keys {
			v, ok := body[k]
			if !ok || v == nil {
				continue
			}
			if !IsEmpty(v) {
				chosen, found = v, true
				break
			}
			if !found {
				chosen, found = v, true
			}
		}
		if found {
			out[b.Record] = chosen
		}
	}
	return out
}
