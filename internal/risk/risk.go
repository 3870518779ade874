// Package risk derives a lending risk report from a reputation profile.
//
// The report combines a base tier taken from the reputation score with three
// behavioral adjustments: liquidation ratio, activity frequency, and account
// age. The combined risk score drives creditworthiness (0-10) and a
// recommended loan ceiling. Everything here is pure integer arithmetic.
package risk

// Base tiers, highest trust first.
const (
	TierLow      = 1
	TierMedium   = 2
	TierHigh     = 3
	TierVeryHigh = 4
)

// MinAccountAge is the account age, in time units, below which an account is
// considered new. 144 blocks is about one day at a 10 minute cadence.
const MinAccountAge = 144

// Label is a human-readable name for a combined risk score.
type Label string

const (
	LabelLow      Label = "low"
	LabelMedium   Label = "medium"
	LabelHigh     Label = "high"
	LabelVeryHigh Label = "very_high"
	LabelExtreme  Label = "extreme" // adjustments pushed the score above 4
)

// Input is the slice of a profile the assessment reads.
type Input struct {
	ReputationScore   uint64
	TotalTransactions uint64
	SuccessfulLoans   uint64
	Liquidations      uint64
	RegistrationBlock uint64
}

// Report is the composite risk assessment for one user at one point in time.
type Report struct {
	User                string `json:"user"`
	ReputationScore     uint64 `json:"reputationScore"`
	BaseTier            uint64 `json:"baseTier"`
	RiskLevel           uint64 `json:"riskLevel"`
	RiskLabel           Label  `json:"riskLabel"`
	Creditworthiness    uint64 `json:"creditworthiness"`
	LiquidationRatio    uint64 `json:"liquidationRatio"`
	SuccessRatio        uint64 `json:"successRatio"`
	AccountAge          uint64 `json:"accountAge"`
	ActivityFrequency   uint64 `json:"activityFrequency"`
	MaxRecommendedLoan  uint64 `json:"maxRecommendedLoan"`
	TotalTransactions   uint64 `json:"totalTransactions"`
	AssessmentTimestamp uint64 `json:"assessmentTimestamp"`
}
