package relationship

import (
	"fmt"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// Tier is the confidence band of a relationship. Lower is more confident.
type Tier int

const (
	TierNone Tier = iota
	Tier1
	Tier2
	Tier3
)

// Tier floors. Scores below Tier3Floor are discarded.
const (
	Tier1Floor = 0.95
	Tier2Floor = 0.90
	Tier3Floor = 0.85
)

// TierForScore maps a correlation score onto a tier.
func TierForScore(score float64) Tier {
	switch {
	case score >= Tier1Floor:
		return Tier1
	case score >= Tier2Floor:
		return Tier2
	case score >= Tier3Floor:
		return Tier3
	default:
		return TierNone
	}
}

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "T1"
	case Tier2:
		return "T2"
	case Tier3:
		return "T3"
	default:
		return "none"
	}
}

// ParseTier parses "T1", "T2" or "T3".
func ParseTier(s string) (Tier, error) {
	switch s {
	case "T1":
		return Tier1, nil
	case "T2":
		return Tier2, nil
	case "T3":
		return Tier3, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

// Kind describes how the two legs relate.
type Kind string

const (
	KindComplementary Kind = "complementary"
	KindCorrelated    Kind = "correlated"
)

// Candidate is a classified pair of outcomes that jointly pay out at least
// one unit per hedged unit. HedgeRatio is units of LegB per unit of LegA.
type Candidate struct {
	Key          string           `json:"key"`
	LegA         types.OutcomeKey `json:"leg_a"`
	LegB         types.OutcomeKey `json:"leg_b"`
	Tier         Tier             `json:"tier"`
	Score        float64          `json:"score"`
	HedgeRatio   float64          `json:"hedge_ratio"`
	Kind         Kind             `json:"kind"`
	Source       string           `json:"source"`
	RevisionA    int              `json:"revision_a"`
	RevisionB    int              `json:"revision_b"`
	ClassifiedAt time.Time        `json:"classified_at"`
}

// CandidateKey returns the identity of an ordered leg pair.
func CandidateKey(legA, legB types.OutcomeKey) string {
	return legA.String() + "|" + legB.String()
}

// NewCandidate builds a candidate, returning nil when the score falls below
// the lowest tier or the ratio is unusable.
func NewCandidate(legA, legB types.OutcomeKey, score, ratio float64, kind Kind, source string) *Candidate {
	tier := TierForScore(score)
	if tier == TierNone || ratio <= 0 {
		return nil
	}
	return &Candidate{
		Key:          CandidateKey(legA, legB),
		LegA:         legA,
		LegB:         legB,
		Tier:         tier,
		Score:        score,
		HedgeRatio:   ratio,
		Kind:         kind,
		Source:       source,
		ClassifiedAt: time.Now(),
	}
}

// Touches reports whether the outcome is one of the candidate's legs.
func (c *Candidate) Touches(key types.OutcomeKey) bool {
	return c.LegA == key || c.LegB == key
}

// SameRelationship reports whether two classifications agree on tier, kind
// and hedge ratio.
func (c *Candidate) SameRelationship(o *Candidate) bool {
	return c.Key == o.Key && c.Tier == o.Tier && c.Kind == o.Kind && c.HedgeRatio == o.HedgeRatio
}
