package canvas

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCurrency is used when a brief names no currency.
const DefaultCurrency = "EUR"

type tierInfo struct {
	percent     float64
	description string
}

var tiers = map[ProjectType]tierInfo{
	TypeA:          {22, "Full workflow with management oversight"},
	TypeB:          {25, "Full workflow"},
	TypeC:          {50, "Simplified workflow"},
	TypeD:          {50, "Simplified workflow"},
	TypeE:          {100, "Blanket license only"},
	TypeProduction: {30, "Custom production workflow"},
}

// PendingType is shown until a budget is known.
const PendingType = TypeC

// Classify maps a budget to its tier.
func Classify(budget float64) ProjectType {
	switch {
	case budget >= 100000:
		return TypeA
	case budget >= 25000:
		return TypeB
	case budget >= 10000:
		return TypeC
	case budget >= 2500:
		return TypeD
	default:
		return TypeE
	}
}

// CalculateMargin splits budget by the tier's fixed margin percentage.
func CalculateMargin(budget float64, tier ProjectType, currency string) Margin {
	info, ok := tiers[tier]
	if !ok {
		tier, info = PendingType, tiers[PendingType]
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	marginAmount := math.Round(budget * info.percent / 100)
	return Margin{
		Budget:           budget,
		BudgetCurrency:   currency,
		MarginPercentage: info.percent,
		MarginAmount:     marginAmount,
		PayoutAmount:     budget - marginAmount,
		Tier:             tier,
		TierDescription:  info.description,
	}
}

// Classification is the tier decision for a canvas.
type Classification struct {
	Reasoning ClassificationReasoning
	Margin    Margin
}

// Effective returns the tier every derived value must use.
func (c Classification) Effective() ProjectType {
	return c.Reasoning.CurrentType
}

// ClassifyBudget derives the tier for budget (hasBudget false when no positive
// budget is known), honoring a pinned override. Margin always uses the
// effective tier.
func ClassifyBudget(budget float64, hasBudget bool, currency string, override *ProjectType) Classification {
	calculated := PendingType
	reasoning := "Classification pending - awaiting brief extraction."
	if hasBudget && budget > 0 {
		calculated = Classify(budget)
		reasoning = budgetReasoning(budget, calculated)
	} else {
		budget = 0
	}

	r := ClassificationReasoning{
		CurrentType:    calculated,
		CalculatedType: calculated,
		Reasoning:      reasoning,
	}
	if override != nil {
		if _, ok := tiers[*override]; ok && *override != "" {
			r.CurrentType = *override
			r.IsOverridden = true
			r.Reasoning = fmt.Sprintf("Manually set to Type %s. Calculated classification is Type %s: %s",
				*override, calculated, reasoning)
		}
	}
	return Classification{
		Reasoning: r,
		Margin:    CalculateMargin(budget, r.CurrentType, currency),
	}
}

// ClassifyFields reads budget_amount and budget_currency from fields.
func ClassifyFields(fields Fields, override *ProjectType) Classification {
	budget, ok := ParseAmount(FieldValue(fields, "budget_amount"))
	currency, _ := asString(FieldValue(fields, "budget_currency"))
	return ClassifyBudget(budget, ok, currency, override)
}

func budgetReasoning(budget float64, t ProjectType) string {
	amount := "€" + FormatAmount(budget)
	switch t {
	case TypeA:
		return fmt.Sprintf("Budget of %s exceeds €100,000 threshold for Type A classification.", amount)
	case TypeB:
		return fmt.Sprintf("Budget of %s falls within €25K-€100K range for Type B classification.", amount)
	case TypeC:
		return fmt.Sprintf("Budget of %s falls within €10K-€25K range for Type C classification.", amount)
	case TypeD:
		return fmt.Sprintf("Budget of %s falls within €2.5K-€10K range for Type D classification.", amount)
	default:
		return fmt.Sprintf("Budget of %s is under €2,500 threshold for Type E (blanket only).", amount)
	}
}

// FormatAmount renders an amount with thousands separators and at most two
// decimals: 100000 -> "100,000", 99999.99 -> "99,999.99".
func FormatAmount(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}
