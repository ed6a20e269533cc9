// Package canvas models the tabbed brief editor: the field tree, the flat brief
// it is filled from, single-field edits, completeness scoring and budget tiers.
package canvas

import "time"

// ProjectType is the pricing-workflow tier of a project.
type ProjectType string

const (
	TypeA          ProjectType = "A"
	TypeB          ProjectType = "B"
	TypeC          ProjectType = "C"
	TypeD          ProjectType = "D"
	TypeE          ProjectType = "E"
	TypeProduction ProjectType = "Production"
)

// ParseProjectType validates a raw tier name.
func ParseProjectType(s string) (ProjectType, bool) {
	switch t := ProjectType(s); t {
	case TypeA, TypeB, TypeC, TypeD, TypeE, TypeProduction:
		return t, true
	}
	return "", false
}

// FieldStatus records the provenance of a field's last write.
type FieldStatus string

const (
	StatusEmpty      FieldStatus = "empty"
	StatusAIFilled   FieldStatus = "ai-filled"
	StatusUserEdited FieldStatus = "user-edited"
)

// FieldPriority weights a field in the completeness score.
type FieldPriority string

const (
	PriorityCritical  FieldPriority = "critical"
	PriorityImportant FieldPriority = "important"
	PriorityHelpful   FieldPriority = "helpful"
)

// FieldType drives how the UI renders a field.
type FieldType string

const (
	FieldText            FieldType = "text"
	FieldTextarea        FieldType = "textarea"
	FieldEmail           FieldType = "email"
	FieldURL             FieldType = "url"
	FieldSelect          FieldType = "select"
	FieldMultiSelect     FieldType = "multi-select"
	FieldTags            FieldType = "tags"
	FieldBoolean         FieldType = "boolean"
	FieldDate            FieldType = "date"
	FieldCurrency        FieldType = "currency"
	FieldTeamSelect      FieldType = "team-select"
	FieldMultiTeamSelect FieldType = "multi-team-select"
	FieldReferenceList   FieldType = "reference-list"
)

// TabID names one of the five canvas tabs.
type TabID string

const (
	TabWhat     TabID = "WHAT"
	TabWho      TabID = "WHO"
	TabWithWhat TabID = "WITH_WHAT"
	TabWhen     TabID = "WHEN"
	TabOther    TabID = "OTHER"
)

// TabOrder is the display and scan order of the tabs.
var TabOrder = []TabID{TabWhat, TabWho, TabWithWhat, TabWhen, TabOther}

// Dependency hides a field until another field holds Value.
type Dependency struct {
	Field string `json:"field" yaml:"field"`
	Value any    `json:"value" yaml:"value"`
}

// Field is one editable unit of the canvas.
type Field struct {
	ID          string        `json:"id" yaml:"id"`
	Label       string        `json:"label" yaml:"label"`
	Value       any           `json:"value" yaml:"value"`
	Type        FieldType     `json:"type" yaml:"type"`
	Status      FieldStatus   `json:"status" yaml:"status"`
	Priority    FieldPriority `json:"priority" yaml:"priority"`
	Placeholder string        `json:"placeholder,omitempty" yaml:"placeholder"`
	Options     []string      `json:"options,omitempty" yaml:"options"`
	ShowFor     []ProjectType `json:"showFor,omitempty" yaml:"showFor"`
	DependsOn   *Dependency   `json:"dependsOn,omitempty" yaml:"dependsOn"`

	// FilledWith names a field whose presence marks this one as filled
	// (the currency follows the budget amount).
	FilledWith string `json:"-" yaml:"filledWith"`
}

// Group is a named, ordered list of fields within a tab.
type Group struct {
	Key    string  `json:"key" yaml:"key"`
	Label  string  `json:"label" yaml:"label"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Fields is the whole canvas: tab -> ordered groups -> ordered fields.
// Values are treated as immutable; edits go through UpdateField.
type Fields map[TabID][]Group

// Tab is a tab header with its missing-field badges.
type Tab struct {
	ID               TabID  `json:"id"`
	Label            string `json:"label"`
	Description      string `json:"description"`
	MissingCritical  int    `json:"missingCritical"`
	MissingImportant int    `json:"missingImportant"`
}

// Project is the canvas header for one case.
type Project struct {
	ID                  string       `json:"id"`
	CaseID              string       `json:"caseId"`
	CaseNumber          string       `json:"caseNumber"`
	CaseTitle           string       `json:"caseTitle"`
	ProjectType         ProjectType  `json:"projectType"`
	ProjectTypeOverride *ProjectType `json:"projectTypeOverride"`
	Status              string       `json:"status"`
	Completeness        int          `json:"completeness"`
	HasUnsavedChanges   bool         `json:"hasUnsavedChanges"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// MissingField points the UI at an unfilled field.
type MissingField struct {
	Field    string        `json:"field"`
	Label    string        `json:"label"`
	Priority FieldPriority `json:"priority"`
	Tab      TabID         `json:"tab"`
}

// Breakdown is the weighted completeness of a field set.
type Breakdown struct {
	Score             int            `json:"score"`
	CriticalComplete  int            `json:"criticalComplete"`
	CriticalTotal     int            `json:"criticalTotal"`
	ImportantComplete int            `json:"importantComplete"`
	ImportantTotal    int            `json:"importantTotal"`
	HelpfulComplete   int            `json:"helpfulComplete"`
	HelpfulTotal      int            `json:"helpfulTotal"`
	MissingFields     []MissingField `json:"missingFields"`
}

// Margin is the budget split for a tier.
type Margin struct {
	Budget           float64     `json:"budget"`
	BudgetCurrency   string      `json:"budgetCurrency"`
	MarginPercentage float64     `json:"marginPercentage"`
	MarginAmount     float64     `json:"marginAmount"`
	PayoutAmount     float64     `json:"payoutAmount"`
	Tier             ProjectType `json:"tier"`
	TierDescription  string      `json:"tierDescription"`
}

// ClassificationReasoning explains the tier shown on the canvas.
// When IsOverridden is false, CurrentType equals CalculatedType.
type ClassificationReasoning struct {
	CurrentType    ProjectType `json:"currentType"`
	CalculatedType ProjectType `json:"calculatedType"`
	IsOverridden   bool        `json:"isOverridden"`
	Reasoning      string      `json:"reasoning"`
}

// SlackIntegration is the Slack side of IntegrationStatus.
type SlackIntegration struct {
	Connected   bool   `json:"connected"`
	ChannelName string `json:"channelName,omitempty"`
}

// NextcloudIntegration is the Nextcloud side of IntegrationStatus.
type NextcloudIntegration struct {
	Connected  bool   `json:"connected"`
	FolderPath string `json:"folderPath,omitempty"`
}

// IntegrationStatus reports provisioned external resources for a case.
type IntegrationStatus struct {
	Slack     SlackIntegration     `json:"slack"`
	Nextcloud NextcloudIntegration `json:"nextcloud"`
}

// NewIntegrationStatus derives connection flags from the stored channel and folder names.
func NewIntegrationStatus(slackChannel, nextcloudFolder string) IntegrationStatus {
	return IntegrationStatus{
		Slack:     SlackIntegration{Connected: slackChannel != "", ChannelName: slackChannel},
		Nextcloud: NextcloudIntegration{Connected: nextcloudFolder != "", FolderPath: nextcloudFolder},
	}
}

// TeamMember is an assignable person for team-select fields.
type TeamMember struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Role   string  `json:"role"`
	Avatar *string `json:"avatar"`
}

// DefaultTeamMembers returns the assignable team.
func DefaultTeamMembers() []TeamMember {
	return []TeamMember{
		{ID: "user-001", Name: "Julia Richter", Role: "Managing Director"},
		{ID: "user-002", Name: "Lisa Weber", Role: "Account Manager"},
		{ID: "user-003", Name: "Max Fischer", Role: "Senior Music Supervisor"},
		{ID: "user-004", Name: "Anna Schmidt", Role: "Project Manager"},
		{ID: "user-005", Name: "Thomas Müller", Role: "Business Affairs"},
		{ID: "user-006", Name: "Sarah Klein", Role: "Music Coordinator"},
		{ID: "user-007", Name: "David Braun", Role: "Junior Music Supervisor"},
	}
}
