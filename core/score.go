package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type scoreKind uint8

const (
	scoreFail scoreKind = iota
	scoreWeight
	scorePass
)

// Score is the utility value of a node. The order is total:
// Fail < Weight(n1) < Weight(n2) for n1 < n2 < Pass.
//
// The zero value is Fail.
type Score struct {
	kind   scoreKind
	weight float64
}

// ScoreFail returns the lowest score.
func ScoreFail() Score { return Score{kind: scoreFail} }

// ScorePass returns the highest score.
func ScorePass() Score { return Score{kind: scorePass} }

// Weight returns a numeric score between Fail and Pass. NaN has no place in
// the order and yields Fail.
func Weight(n float64) Score {
	if math.IsNaN(n) {
		return ScoreFail()
	}
	return Score{kind: scoreWeight, weight: n}
}

// IsFail reports whether s is the Fail score.
func (s Score) IsFail() bool { return s.kind == scoreFail }

// IsPass reports whether s is the Pass score.
func (s Score) IsPass() bool { return s.kind == scorePass }

// Weight returns the numeric weight and whether s is a Weight score.
func (s Score) Weight() (float64, bool) {
	return s.weight, s.kind == scoreWeight
}

// Compare returns -1, 0 or +1 depending on whether s sorts before, equal to,
// or after other.
func (s Score) Compare(other Score) int {
	if s.kind != other.kind {
		if s.kind < other.kind {
			return -1
		}
		return 1
	}
	if s.kind != scoreWeight || s.weight == other.weight {
		return 0
	}
	if s.weight < other.weight {
		return -1
	}
	return 1
}

// Less reports whether s sorts strictly before other.
func (s Score) Less(other Score) bool {
	return s.Compare(other) < 0
}

// String returns "fail", "pass" or the weight.
func (s Score) String() string {
	switch s.kind {
	case scorePass:
		return "pass"
	case scoreWeight:
		return strconv.FormatFloat(s.weight, 'g', -1, 64)
	default:
		return "fail"
	}
}

// ParseScore parses the String form of a Score.
func ParseScore(v string) (Score, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "fail":
		return ScoreFail(), nil
	case "pass":
		return ScorePass(), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) {
		return Score{}, fmt.Errorf("invalid score %q", v)
	}
	return Weight(f), nil
}

// MarshalJSON encodes pass/fail as strings and weights as numbers.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.kind == scoreWeight {
		return json.Marshal(s.weight)
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the MarshalJSON forms.
func (s *Score) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Weight(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("score must be a number, \"pass\" or \"fail\": %w", err)
	}
	parsed, err := ParseScore(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
