package relationship

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// Classifier judges whether two markets form a hedge. A nil candidate with a
// nil error means the markets are unrelated. Argument order orients the legs:
// LegA is always an outcome of a.
type Classifier interface {
	Classify(ctx context.Context, a, b types.Market) (*Candidate, error)
}

// Correlation is an operator-supplied relationship between two markets.
type Correlation struct {
	Score      float64 `json:"score"`
	HedgeRatio float64 `json:"hedge_ratio"`
	// Inverse means YES on one market implies NO on the other, so the hedge
	// is YES on both.
	Inverse bool `json:"inverse"`
}

// LoadCorrelations reads a JSON object of "venue:market|venue:market" to
// Correlation. An empty path yields an empty table.
func LoadCorrelations(path string) (map[string]Correlation, error) {
	if path == "" {
		return map[string]Correlation{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correlations: %w", err)
	}

	var table map[string]Correlation
	err = json.Unmarshal(data, &table)
	if err != nil {
		return nil, fmt.Errorf("decode correlations: %w", err)
	}

	for key, corr := range table {
		if strings.Count(key, "|") != 1 {
			return nil, fmt.Errorf("correlation key %q is not a market pair", key)
		}
		if TierForScore(corr.Score) == TierNone {
			return nil, fmt.Errorf("correlation %s: score %.3f below lowest tier", key, corr.Score)
		}
	}
	return table, nil
}

// RuleConfig holds rule classifier settings.
type RuleConfig struct {
	// MinSimilarity is the question similarity at which cross-venue markets
	// are treated as the same event.
	MinSimilarity float64
	// CloseTolerance bounds the difference in close times for cross-venue matches.
	CloseTolerance time.Duration
	// Correlations maps "venue:market|venue:market" to a known relationship.
	Correlations map[string]Correlation
}

// RuleClassifier matches markets with deterministic rules.
type RuleClassifier struct {
	minSimilarity  float64
	closeTolerance time.Duration
	correlations   map[string]Correlation
}

// NewRuleClassifier creates a rule classifier.
func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	minSim := cfg.MinSimilarity
	if minSim <= 0 {
		minSim = Tier3Floor
	}
	tol := cfg.CloseTolerance
	if tol <= 0 {
		tol = 24 * time.Hour
	}
	corr := make(map[string]Correlation, len(cfg.Correlations))
	for k, v := range cfg.Correlations {
		corr[k] = v
	}
	return &RuleClassifier{
		minSimilarity:  minSim,
		closeTolerance: tol,
		correlations:   corr,
	}
}

// Classify implements Classifier.
func (r *RuleClassifier) Classify(ctx context.Context, a, b types.Market) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.Active() || !b.Active() {
		return nil, nil
	}

	if a.Key() == b.Key() {
		return r.stamp(NewCandidate(a.Outcome(types.SideYes), a.Outcome(types.SideNo), 1.0, 1.0, KindComplementary, "rule:same-market"), a, b), nil
	}

	if corr, ok := r.lookupCorrelation(a, b); ok {
		legB := b.Outcome(types.SideNo)
		if corr.Inverse {
			legB = b.Outcome(types.SideYes)
		}
		ratio := corr.HedgeRatio
		if ratio <= 0 {
			ratio = 1.0
		}
		return r.stamp(NewCandidate(a.Outcome(types.SideYes), legB, corr.Score, ratio, KindCorrelated, "rule:correlation"), a, b), nil
	}

	if a.Venue == b.Venue {
		return nil, nil
	}
	if !closeTimesMatch(a.ClosesAt, b.ClosesAt, r.closeTolerance) {
		return nil, nil
	}

	sim := QuestionSimilarity(a.NormalizedQuestion(), b.NormalizedQuestion())
	if sim < r.minSimilarity {
		return nil, nil
	}
	return r.stamp(NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), sim, 1.0, KindComplementary, "rule:cross-venue"), a, b), nil
}

func (r *RuleClassifier) lookupCorrelation(a, b types.Market) (Correlation, bool) {
	if corr, ok := r.correlations[a.Key()+"|"+b.Key()]; ok {
		return corr, true
	}
	corr, ok := r.correlations[b.Key()+"|"+a.Key()]
	return corr, ok
}

func (r *RuleClassifier) stamp(c *Candidate, a, b types.Market) *Candidate {
	if c == nil {
		return nil
	}
	c.RevisionA = a.Revision
	c.RevisionB = b.Revision
	return c
}

func closeTimesMatch(a, b time.Time, tol time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// QuestionSimilarity is the Jaccard similarity of the word sets of two
// normalised questions.
func QuestionSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}
