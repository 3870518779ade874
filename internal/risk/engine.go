package risk

// Loan ceilings keyed by combined risk score.
const (
	LoanTier1   = 1_000_000
	LoanTier2   = 500_000
	LoanTier3   = 100_000
	LoanTier4   = 50_000
	LoanMinimum = 10_000
)

// Assess computes the risk report for a profile at time now. The caller fills
// in Report.User; Assess has no notion of identity.
func Assess(in Input, now uint64) *Report {
	age := accountAge(in.RegistrationBlock, now)
	liqRatio := percent(in.Liquidations, in.TotalTransactions)
	successRatio := percent(in.SuccessfulLoans, in.TotalTransactions)
	frequency := activityFrequency(in.TotalTransactions, age)

	base := BaseTier(in.ReputationScore)
	total := base + liquidationAdjustment(liqRatio) + frequencyAdjustment(frequency) + ageAdjustment(age)

	return &Report{
		ReputationScore:     in.ReputationScore,
		BaseTier:            base,
		RiskLevel:           total,
		RiskLabel:           LabelFor(total),
		Creditworthiness:    Creditworthiness(total),
		LiquidationRatio:    liqRatio,
		SuccessRatio:        successRatio,
		AccountAge:          age,
		ActivityFrequency:   frequency,
		MaxRecommendedLoan:  MaxLoan(total),
		TotalTransactions:   in.TotalTransactions,
		AssessmentTimestamp: now,
	}
}

// BaseTier maps a reputation score to a tier. First match wins.
func BaseTier(score uint64) uint64 {
	switch {
	case score > 750:
		return TierLow
	case score > 500:
		return TierMedium
	case score > 250:
		return TierHigh
	default:
		return TierVeryHigh
	}
}

// Creditworthiness is the inverse of the risk score on a 0-10 scale.
func Creditworthiness(riskScore uint64) uint64 {
	return 10 - min(riskScore, 10)
}

// MaxLoan is an exact-match lookup; every score without its own bucket,
// including everything above 4, falls back to the minimum.
func MaxLoan(riskScore uint64) uint64 {
	switch riskScore {
	case 1:
		return LoanTier1
	case 2:
		return LoanTier2
	case 3:
		return LoanTier3
	case 4:
		return LoanTier4
	default:
		return LoanMinimum
	}
}

// LabelFor names a combined risk score.
func LabelFor(riskScore uint64) Label {
	switch {
	case riskScore <= TierLow:
		return LabelLow
	case riskScore == TierMedium:
		return LabelMedium
	case riskScore == TierHigh:
		return LabelHigh
	case riskScore == TierVeryHigh:
		return LabelVeryHigh
	default:
		return LabelExtreme
	}
}

func liquidationAdjustment(ratio uint64) uint64 {
	switch {
	case ratio > 20:
		return 2
	case ratio > 10:
		return 1
	default:
		return 0
	}
}

func frequencyAdjustment(frequency uint64) uint64 {
	if frequency < 1 {
		return 1
	}
	return 0
}

func ageAdjustment(age uint64) uint64 {
	if age < MinAccountAge {
		return 1
	}
	return 0
}

// accountAge saturates at zero when now precedes registration.
func accountAge(registered, now uint64) uint64 {
	if now < registered {
		return 0
	}
	return now - registered
}

func percent(part, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	return part * 100 / total
}

func activityFrequency(total, age uint64) uint64 {
	if age == 0 {
		return 0
	}
	return total / age
}
