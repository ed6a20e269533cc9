package n8n

import (
	"strconv"
	"time"

	"github.com/p-blackswan/project-builder/internal/canvas"
)

// User identifies who triggered an automation.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	ID    string `json:"id"`
	Role  string `json:"role"`
}

// BusinessBrief is the commercial part of a brief.
type BusinessBrief struct {
	Client    *string  `json:"client"`
	Agency    *string  `json:"agency"`
	Brand     *string  `json:"brand"`
	Media     []string `json:"media"`
	Term      *string  `json:"term"`
	Territory []string `json:"territory"`
	Budget    *string  `json:"budget"`
	Lengths   []string `json:"lengths"`
	Cutdowns  []string `json:"cutdowns"`
	Extras    *string  `json:"extras"`
}

// Interpretation is the search-oriented reading of the creative brief.
type Interpretation struct {
	SearchKeywords    []string `json:"search_keywords"`
	MoodDescriptors   []string `json:"mood_descriptors"`
	GenreSuggestions  []string `json:"genre_suggestions"`
	ReferenceAnalysis string   `json:"reference_analysis"`
}

// CreativeBrief is the musical direction.
type CreativeBrief struct {
	Mood                   *string         `json:"mood"`
	Keywords               []string        `json:"keywords"`
	Genres                 []string        `json:"genres"`
	Instruments            []string        `json:"instruments"`
	ReferenceTracks        []any           `json:"reference_tracks"`
	Descriptions           *string         `json:"descriptions"`
	LyricsRequirements     *string         `json:"lyrics_requirements"`
	EnhancedInterpretation *Interpretation `json:"enhanced_interpretation,omitempty"`
}

// ContextualBrief is the campaign background.
type ContextualBrief struct {
	Brand               *string  `json:"brand"`
	BrandCategory       *string  `json:"brand_category"`
	BrandAttributes     []string `json:"brand_attributes"`
	AudiencePreferences *string  `json:"audience_preferences"`
	Story               *string  `json:"story"`
}

// TechnicalBrief is the delivery format.
type TechnicalBrief struct {
	Lengths           []string       `json:"lengths"`
	MusicalAttributes map[string]any `json:"musical_attributes"`
	StemRequirements  *string        `json:"stem_requirements"`
	FormatSpecs       *string        `json:"format_specs"`
}

// Deliverables are the milestone dates.
type Deliverables struct {
	SubmissionDeadline *string `json:"submission_deadline"`
	PPMDate            *string `json:"ppm_date"`
	ShootDate          *string `json:"shoot_date"`
	OfflineDate        *string `json:"offline_date"`
	OnlineDate         *string `json:"online_date"`
	AirDate            *string `json:"air_date"`
}

// BriefAnalysis is the structured brief the automations consume.
type BriefAnalysis struct {
	BusinessBrief      BusinessBrief   `json:"business_brief"`
	CreativeBrief      CreativeBrief   `json:"creative_brief"`
	ContextualBrief    ContextualBrief `json:"contextual_brief"`
	TechnicalBrief     TechnicalBrief  `json:"technical_brief"`
	Deliverables       Deliverables    `json:"deliverables"`
	MissingInformation []string        `json:"missing_information"`
	BriefQuality       string          `json:"brief_quality"`
	ConfidenceScore    float64         `json:"confidence_score"`
	ExtractionStatus   string          `json:"extraction_status"`
}

// Payload is the body posted to both webhooks.
type Payload struct {
	BriefAnalysis BriefAnalysis `json:"briefAnalysis"`
	User          User          `json:"user"`
	ProjectID     string        `json:"projectId"`
	ChatID        string        `json:"chatId,omitempty"`
	MessageID     string        `json:"messageId,omitempty"`
	Version       int           `json:"version"`
	Timestamp     string        `json:"timestamp"`
}

// ActionPayload is Payload tagged with the action and case it is for.
type ActionPayload struct {
	Action     string  `json:"action"`
	ProjectID  string  `json:"project_id"`
	CaseNumber *string `json:"case_number"`
	CaseID     string  `json:"case_id"`
	Payload
}

// PayloadOptions carries the optional chat references.
type PayloadOptions struct {
	ChatID    string
	MessageID string
	Now       time.Time
}

// Quality grades, from the number of key facts present.
const (
	QualityComplete   = "complete"
	QualityGood       = "good"
	QualityPartial    = "partial"
	QualityIncomplete = "incomplete"
)

// keyFacts are the facts an automation cannot do without.
const keyFacts = 5

// BuildPayload reads canvas fields into the webhook payload.
func BuildPayload(fields canvas.Fields, projectID string, user User, opts PayloadOptions) Payload {
	get := func(id string) any { return canvas.FieldValue(fields, id) }

	client := optString(get("client_name"))
	brand := optString(get("brand_name"))
	media := optStrings(get("media_types"))
	territory := optStrings(get("territory"))
	lengths := optStrings(get("video_lengths"))
	mood := optString(get("creative_direction"))
	keywords := optStrings(get("mood_keywords"))
	genres := optStrings(get("genre_preferences"))
	deadline := optString(get("deadline_date"))

	var budget *string
	if amount, ok := canvas.ParseAmount(get("budget_amount")); ok && amount != 0 {
		s := strconv.FormatFloat(amount, 'f', -1, 64)
		budget = &s
	}

	var missing []string
	if client == nil {
		missing = append(missing, "client")
	}
	if budget == nil {
		missing = append(missing, "budget")
	}
	if len(territory) == 0 {
		missing = append(missing, "territory")
	}
	if len(media) == 0 {
		missing = append(missing, "media")
	}
	if deadline == nil {
		missing = append(missing, "submission_deadline")
	}
	if missing == nil {
		missing = []string{}
	}
	present := keyFacts - len(missing)

	stems := "No stems required"
	if v, _ := get("stems_required").(bool); v {
		stems = "Full stems needed"
	}

	var refs []any
	if v, ok := get("reference_tracks").([]any); ok {
		refs = v
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	return Payload{
		BriefAnalysis: BriefAnalysis{
			BusinessBrief: BusinessBrief{
				Client:    client,
				Agency:    optString(get("agency_name")),
				Brand:     brand,
				Media:     media,
				Term:      optString(get("term_length")),
				Territory: territory,
				Budget:    budget,
				Lengths:   lengths,
			},
			CreativeBrief: CreativeBrief{
				Mood:               mood,
				Keywords:           keywords,
				Genres:             genres,
				ReferenceTracks:    refs,
				Descriptions:       mood,
				LyricsRequirements: optString(get("vocals_preference")),
				EnhancedInterpretation: &Interpretation{
					SearchKeywords:   orEmpty(keywords),
					MoodDescriptors:  orEmpty(keywords),
					GenreSuggestions: orEmpty(genres),
				},
			},
			ContextualBrief: ContextualBrief{
				Brand:               brand,
				BrandAttributes:     optStrings(get("brand_values")),
				AudiencePreferences: optString(get("target_audience")),
				Story:               optString(get("campaign_context")),
			},
			TechnicalBrief: TechnicalBrief{
				Lengths:          lengths,
				StemRequirements: &stems,
			},
			Deliverables: Deliverables{
				SubmissionDeadline: deadline,
				PPMDate:            optString(get("first_presentation_date")),
				AirDate:            optString(get("air_date")),
			},
			MissingInformation: missing,
			BriefQuality:       Quality(present),
			ConfidenceScore:    float64(present) / keyFacts,
			ExtractionStatus:   "complete",
		},
		User:      user,
		ProjectID: projectID,
		ChatID:    opts.ChatID,
		MessageID: opts.MessageID,
		Version:   1,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Quality grades a brief by how many of the five key facts it has.
func Quality(present int) string {
	switch {
	case present >= keyFacts:
		return QualityComplete
	case present >= 3:
		return QualityGood
	case present >= 2:
		return QualityPartial
	default:
		return QualityIncomplete
	}
}

func optString(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func optStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
