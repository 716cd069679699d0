// Package retention trims the clipboard history log by count and age.
// Stored artifacts are untouched; their lifetime is governed by the
// eviction monitor alone.
package retention

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clipvault/internal/clip"
)

// Pruner deletes history beyond the newest maxItems records and records older
// than maxDays. Values in the settings table take precedence over the
// configured ones.
type Pruner struct {
	history  clip.HistoryLog
	settings clip.SettingStore
	maxItems int
	maxDays  int
	clock    clip.Clock
	logger   clip.Logger
}

func NewPruner(history clip.HistoryLog, settings clip.SettingStore, maxItems, maxDays int, clock clip.Clock, logger clip.Logger) *Pruner {
	if logger == nil {
		logger = clip.NewNopLogger()
	}
	return &Pruner{
		history:  history,
		settings: settings,
		maxItems: maxItems,
		maxDays:  maxDays,
		clock:    clock,
		logger:   logger,
	}
}

// Limits returns the effective limits after applying setting overrides.
// Invalid stored values are ignored with a warning.
func (p *Pruner) Limits() (maxItems, maxDays int) {
	return p.override(clip.SettingMaxItems, p.maxItems), p.override(clip.SettingMaxDays, p.maxDays)
}

// Prune applies the limits and returns the number of deleted records.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	maxItems, maxDays := p.Limits()
	if maxItems == 0 && maxDays == 0 {
		return 0, nil
	}

	var olderThan time.Time
	if maxDays > 0 {
		olderThan = p.clock.Now().AddDate(0, 0, -maxDays)
	}
	n, err := p.history.PruneHistory(maxItems, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	if n > 0 {
		p.logger.Info("pruned history", "deleted", n, "max_items", maxItems, "max_days", maxDays)
	}
	return n, nil
}

func (p *Pruner) override(key string, fallback int) int {
	if p.settings == nil {
		return fallback
	}
	raw, ok, err := p.settings.GetSetting(key)
	if err != nil {
		p.logger.Warn("reading setting failed", "key", key, "error", err)
		return fallback
	}
	if !ok {
		return fallback
	}
	v, err := ParseLimit(raw)
	if err != nil {
		p.logger.Warn("ignoring invalid setting", "key", key, "value", raw, "error", err)
		return fallback
	}
	return v
}

// ParseLimit parses a non-negative integer retention limit.
func ParseLimit(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative: %d", v)
	}
	return v, nil
}
