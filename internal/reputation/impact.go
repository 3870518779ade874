package reputation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ActivityType is the kind of behavioral event being recorded. Codes outside
// the five known kinds are representable and carry zero impact.
type ActivityType uint8

const (
	LoanRepaid ActivityType = iota
	Liquidated
	LargeTransaction
	ProtocolInteraction
	GovernanceVote
)

// LargeTransactionThreshold is the amount a LargeTransaction must exceed to
// earn its bonus.
const LargeTransactionThreshold = 1_000_000

// Score deltas per activity.
const (
	ImpactLoanRepaid          = 10
	ImpactLiquidated          = -50
	ImpactLargeTransaction    = 5
	ImpactProtocolInteraction = 2
	ImpactGovernanceVote      = 3
)

var activityNames = map[ActivityType]string{
	LoanRepaid:          "loan_repaid",
	Liquidated:          "liquidated",
	LargeTransaction:    "large_transaction",
	ProtocolInteraction: "protocol_interaction",
	GovernanceVote:      "governance_vote",
}

// Impact returns the signed score delta for an activity. It never fails.
func Impact(t ActivityType, amount uint64) int64 {
	switch t {
	case LoanRepaid:
		return ImpactLoanRepaid
	case Liquidated:
		return ImpactLiquidated
	case LargeTransaction:
		if amount > LargeTransactionThreshold {
			return ImpactLargeTransaction
		}
		return 0
	case ProtocolInteraction:
		return ImpactProtocolInteraction
	case GovernanceVote:
		return ImpactGovernanceVote
	default:
		return 0
	}
}

// Known reports whether t is one of the five defined activity kinds.
func (t ActivityType) Known() bool {
	_, ok := activityNames[t]
	return ok
}

func (t ActivityType) String() string {
	if name, ok := activityNames[t]; ok {
		return name
	}
	return "unknown_" + strconv.Itoa(int(t))
}

// MaxActivityCode is the largest representable activity code. Codes above
// the five known kinds up to this bound are accepted with zero impact.
const MaxActivityCode = math.MaxUint8

// ParseActivityType accepts a known name ("loan_repaid") or a numeric code
// in [0, MaxActivityCode] ("7").
func ParseActivityType(s string) (ActivityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range activityNames {
		if name == s {
			return t, nil
		}
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		if !errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("unknown activity type %q", s)
		}
	}
	return parseActivityCode(s)
}

func parseActivityCode(s string) (ActivityType, error) {
	code, err := strconv.ParseUint(s, 10, 8)
	if errors.Is(err, strconv.ErrSyntax) && !strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("activity type code %s is not an integer", s)
	}
	if err != nil {
		return 0, fmt.Errorf("activity type code %s out of range 0-%d", s, MaxActivityCode)
	}
	return ActivityType(code), nil
}

// MarshalJSON encodes the numeric code.
func (t ActivityType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(t))), nil
}

// UnmarshalJSON accepts either the numeric code or a name string.
func (t *ActivityType) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("activity type must be a code or a name: %w", err)
	}

	var (
		parsed ActivityType
		err    error
	)
	switch v := v.(type) {
	case json.Number:
		parsed, err = parseActivityCode(v.String())
	case string:
		parsed, err = ParseActivityType(v)
	default:
		err = fmt.Errorf("activity type must be a code or a name, got %s", data)
	}
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// clampScore applies delta to score, saturating at the score bounds.
func clampScore(score uint64, delta int64) uint64 {
	raw := int64(score) + delta
	switch {
	case raw < MinScore:
		return MinScore
	case raw > MaxScore:
		return MaxScore
	default:
		return uint64(raw)
	}
}
