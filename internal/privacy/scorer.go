package privacy

// MaxRiskScore is the saturation point of the risk score.
const MaxRiskScore = 100

const (
	highRiskThreshold   = 65
	mediumRiskThreshold = 25
)

var categoryWeights = map[Category]int{
	CategoryCreditCard:  28,
	CategoryNationalID:  25,
	CategoryIBAN:        18,
	CategoryEmail:       12,
	CategoryPhone:       10,
	CategoryDateOfBirth: 10,
	CategoryAddress:     8,
	CategoryName:        6,
	CategoryOther:       5,
}

// CategoryWeight returns the risk weight of a category. Unknown categories
// weigh the same as CategoryOther.
func CategoryWeight(c Category) int {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return categoryWeights[CategoryOther]
}

// Score sums the category weights of findings, saturating at MaxRiskScore, and
// classifies the result. The order of findings does not matter.
func Score(findings []Finding) (int, RiskLevel) {
	score := 0
	for _, f := range findings {
		score += CategoryWeight(f.Category)
		if score >= MaxRiskScore {
			score = MaxRiskScore
			break
		}
	}
	return score, LevelForScore(score)
}

// LevelForScore maps a score to its tier: >= 65 high, >= 25 medium, else low.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= highRiskThreshold:
		return RiskHigh
	case score >= mediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
