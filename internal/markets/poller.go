package markets

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// Source lists market descriptors from an external listing.
type Source interface {
	Load(ctx context.Context) ([]types.Market, error)
}

// FileSource reads market descriptors from a JSON array on disk.
type FileSource struct {
	Path string
}

// Load reads and decodes the file.
func (f *FileSource) Load(ctx context.Context) ([]types.Market, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}

	var list []types.Market
	err = json.Unmarshal(data, &list)
	if err != nil {
		return nil, fmt.Errorf("decode markets file: %w", err)
	}
	return list, nil
}

// Poller keeps the catalog in sync with a Source.
type Poller struct {
	source   Source
	catalog  *Catalog
	interval time.Duration
	logger   *zap.Logger
}

// PollerConfig holds poller configuration.
type PollerConfig struct {
	Source       Source
	Catalog      *Catalog
	PollInterval time.Duration
	Logger       *zap.Logger
}

// NewPoller creates a poller.
func NewPoller(cfg *PollerConfig) *Poller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		source:   cfg.Source,
		catalog:  cfg.Catalog,
		interval: interval,
		logger:   cfg.Logger,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("market-poller-starting", zap.Duration("poll-interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	err := p.Poll(ctx)
	if err != nil {
		p.logger.Error("initial-market-poll-failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("market-poller-stopping")
			return ctx.Err()
		case <-ticker.C:
			err := p.Poll(ctx)
			if err != nil {
				p.logger.Error("market-poll-failed", zap.Error(err))
			}
		}
	}
}

// Poll loads the source once and applies it to the catalog.
func (p *Poller) Poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		LoadDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	list, err := p.source.Load(ctx)
	if err != nil {
		LoadErrorsTotal.Inc()
		return fmt.Errorf("load markets: %w", err)
	}

	changed := 0
	for i := range list {
		if p.apply(list[i]) {
			changed++
		}
	}

	p.logger.Debug("market-poll-complete",
		zap.Int("markets", len(list)),
		zap.Int("changed", changed),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Poller) apply(m types.Market) bool {
	existing, known := p.catalog.Get(m.Venue, m.ID)

	switch m.Status {
	case types.MarketResolved:
		if known && existing.Active() {
			err := p.catalog.Resolve(m.Venue, m.ID, m.Resolved)
			if err != nil {
				p.logger.Warn("market-resolve-failed", zap.String("market", m.Key()), zap.Error(err))
				return false
			}
			return true
		}
		return false
	case types.MarketDelisted:
		if known && existing.Active() {
			err := p.catalog.Delist(m.Venue, m.ID)
			if err != nil {
				p.logger.Warn("market-delist-failed", zap.String("market", m.Key()), zap.Error(err))
				return false
			}
			return true
		}
		return false
	}

	if known && !existing.Active() {
		return false
	}

	evt, err := p.catalog.Register(m)
	if err != nil {
		p.logger.Warn("market-register-failed", zap.String("market", m.Key()), zap.Error(err))
		return false
	}
	return evt != ""
}
