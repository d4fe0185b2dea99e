package relationship

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/cache"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// CachedConfig holds cached classifier settings.
type CachedConfig struct {
	Inner   Classifier
	Cache   cache.Cache
	Window  time.Duration
	Timeout time.Duration
	Logger  *zap.Logger
}

// CachedClassifier memoises verdicts within a caching window and bounds each
// call with a timeout. Failures surface as ErrClassificationUnavailable.
type CachedClassifier struct {
	inner   Classifier
	cache   cache.Cache
	window  time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

type verdict struct {
	candidate *Candidate
}

// NewCachedClassifier wraps a classifier.
func NewCachedClassifier(cfg *CachedConfig) *CachedClassifier {
	window := cfg.Window
	if window <= 0 {
		window = 10 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClassifier{
		inner:   cfg.Inner,
		cache:   cfg.Cache,
		window:  window,
		timeout: timeout,
		logger:  logger,
	}
}

// Classify implements Classifier.
func (c *CachedClassifier) Classify(ctx context.Context, a, b types.Market) (*Candidate, error) {
	key := verdictKey(a, b)

	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			if v, ok := cached.(*verdict); ok {
				ClassifierCacheHitsTotal.Inc()
				return cloneCandidate(v.candidate), nil
			}
		}
		ClassifierCacheMissesTotal.Inc()
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	cand, err := c.inner.Classify(callCtx, a, b)
	ClassificationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		ClassificationsTotal.WithLabelValues("unavailable").Inc()
		c.logger.Debug("classification-unavailable",
			zap.String("market-a", a.Key()),
			zap.String("market-b", b.Key()),
			zap.Error(err))
		if errors.Is(err, types.ErrClassificationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("classify %s/%s: %w: %v", a.Key(), b.Key(), types.ErrClassificationUnavailable, err)
	}

	if cand != nil && cand.Tier == TierNone {
		cand = nil
	}
	if cand == nil {
		ClassificationsTotal.WithLabelValues("unrelated").Inc()
	} else {
		ClassificationsTotal.WithLabelValues(cand.Tier.String()).Inc()
	}

	if c.cache != nil {
		c.cache.Set(key, &verdict{candidate: cloneCandidate(cand)}, c.window)
	}
	return cand, nil
}

// Forget drops any cached verdict for the pair.
func (c *CachedClassifier) Forget(a, b types.Market) {
	if c.cache != nil {
		c.cache.Delete(verdictKey(a, b))
	}
}

func verdictKey(a, b types.Market) string {
	h := sha256.New()
	for _, p := range []string{a.Key(), strconv.Itoa(a.Revision), b.Key(), strconv.Itoa(b.Revision)} {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return "verdict:" + hex.EncodeToString(h.Sum(nil))
}

func cloneCandidate(c *Candidate) *Candidate {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Chain tries classifiers in order and returns the first candidate found.
// It fails only when no classifier found a candidate and at least one failed.
type Chain []Classifier

// Classify implements Classifier.
func (ch Chain) Classify(ctx context.Context, a, b types.Market) (*Candidate, error) {
	var firstErr error
	for _, cl := range ch {
		cand, err := cl.Classify(ctx, a, b)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if cand != nil {
			return cand, nil
		}
	}
	return nil, firstErr
}
