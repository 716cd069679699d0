// Package evict keeps the backup directory under its size ceiling by
// deleting the oldest artifacts first.
package evict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"clipvault/internal/clip"
	"clipvault/internal/config"
	"clipvault/internal/fs"
)

// Pruner is run after every pass. The history retention pruner satisfies it.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Options configures a Monitor.
type Options struct {
	Dir      string
	Ceiling  int64         // bytes
	Interval time.Duration // between passes
	Exclude  []string      // glob patterns never evicted
}

// Report summarises one pass.
type Report struct {
	Ceiling int64
	Before  int64 // bytes before the pass
	After   int64 // bytes after the pass
	Deleted []string
	Failed  []string
	Pruned  int64 // history records removed by the pruner
}

// OverCeiling reports whether the pass ended above the ceiling because no
// further candidates remained.
func (r *Report) OverCeiling() bool {
	return r.After > r.Ceiling
}

// Monitor measures the backup directory and evicts the oldest files when the
// total exceeds the ceiling.
type Monitor struct {
	opts     Options
	index    clip.ArtifactIndex
	settings clip.SettingStore
	lock     *clip.DirLock
	pruner   Pruner
	logger   clip.Logger
	remove   func(string) error
}

// NewMonitor creates a Monitor. settings and pruner may be nil. A relative
// Dir is resolved against the working directory so scanned paths match the
// absolute paths the store registers.
func NewMonitor(opts Options, index clip.ArtifactIndex, settings clip.SettingStore, lock *clip.DirLock, pruner Pruner, logger clip.Logger) (*Monitor, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: backup dir is required", clip.ErrConfig)
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving backup dir: %v", clip.ErrConfig, err)
	}
	opts.Dir = dir
	if opts.Ceiling <= 0 {
		return nil, fmt.Errorf("%w: size ceiling must be positive", clip.ErrConfig)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: check interval must be positive", clip.ErrConfig)
	}
	if logger == nil {
		logger = clip.NewNopLogger()
	}
	return &Monitor{
		opts:     opts,
		index:    index,
		settings: settings,
		lock:     lock,
		pruner:   pruner,
		logger:   logger,
		remove:   os.Remove,
	}, nil
}

// Run performs a pass immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("eviction monitor started",
		"dir", m.opts.Dir, "ceiling", config.FormatSize(m.opts.Ceiling), "interval", m.opts.Interval)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("eviction pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("eviction monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

type candidate struct {
	entry     fs.Entry
	createdAt time.Time
	checksum  string // empty for unregistered files
}

// RunOnce performs a single measure-and-evict pass.
func (m *Monitor) RunOnce(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{Ceiling: m.Ceiling()}

	entries, err := fs.ListRegularFiles(m.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing backup dir: %v", clip.ErrIOFailure, err)
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	report.Before = total
	report.After = total

	if total > report.Ceiling {
		m.logger.Info("backup dir over ceiling",
			"size", config.FormatSize(total), "ceiling", config.FormatSize(report.Ceiling))

		candidates, err := m.candidates(entries)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if report.After <= report.Ceiling {
				break
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			freed, err := m.evict(c)
			if err != nil {
				m.logger.Warn("eviction failed", "path", c.entry.Path, "error", err)
				report.Failed = append(report.Failed, c.entry.Path)
				continue
			}
			report.After -= freed
			report.Deleted = append(report.Deleted, c.entry.Path)
			m.logger.Info("evicted artifact", "path", c.entry.Path, "size", freed, "checksum", c.checksum)
		}

		if report.OverCeiling() {
			m.logger.Warn("no eviction candidates left, backup dir still over ceiling",
				"size", config.FormatSize(report.After), "ceiling", config.FormatSize(report.Ceiling))
		}
	}

	if m.pruner != nil {
		n, err := m.pruner.Prune(ctx)
		if err != nil {
			m.logger.Warn("history pruning failed", "error", err)
		}
		report.Pruned = n
	}

	return report, nil
}

// Ceiling returns the effective ceiling: the max_storage setting if it holds
// a valid size, the configured ceiling otherwise.
func (m *Monitor) Ceiling() int64 {
	if m.settings == nil {
		return m.opts.Ceiling
	}
	raw, ok, err := m.settings.GetSetting(clip.SettingMaxStorage)
	if err != nil {
		m.logger.Warn("reading setting failed", "key", clip.SettingMaxStorage, "error", err)
		return m.opts.Ceiling
	}
	if !ok {
		return m.opts.Ceiling
	}
	n, err := config.ParseSize(raw)
	if err != nil || n <= 0 {
		m.logger.Warn("ignoring invalid setting", "key", clip.SettingMaxStorage, "value", raw)
		return m.opts.Ceiling
	}
	return n
}

// candidates returns the evictable entries, oldest first.
func (m *Monitor) candidates(entries []fs.Entry) ([]candidate, error) {
	matcher, err := fs.LoadExcludeMatcher(m.opts.Dir, m.opts.Exclude)
	if err != nil {
		m.logger.Warn("reading exclude file failed, using configured patterns", "error", err)
		matcher = fs.NewExcludeMatcher(m.opts.Exclude)
	}

	out := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if matcher.Match(e.Name) {
			continue
		}
		c := candidate{entry: e, createdAt: e.CreatedAt()}
		a, err := m.index.FindArtifactByPath(e.Path)
		if err != nil {
			return nil, fmt.Errorf("looking up artifact: %w", err)
		}
		if a != nil {
			c.createdAt = a.CreatedAt
			c.checksum = a.Checksum
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].entry.Name < out[j].entry.Name
	})
	return out, nil
}

// evict deletes one file under the directory lock and returns the bytes freed.
// A file that disappeared since the scan counts as freed.
func (m *Monitor) evict(c candidate) (int64, error) {
	var freed int64
	err := m.lock.Do(func() error {
		cur, ok, err := fs.StatRegular(c.entry.Path)
		if err != nil {
			return err
		}
		if !ok {
			freed = c.entry.Size
			return m.unregister(c)
		}
		if err := m.remove(cur.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
		}
		freed = cur.Size
		return m.unregister(c)
	})
	return freed, err
}

func (m *Monitor) unregister(c candidate) error {
	if c.checksum == "" {
		return nil
	}
	if err := m.index.DeleteArtifact(c.checksum); err != nil {
		// The file is gone; a stale row is dropped by the store on next use.
		m.logger.Warn("unregistering evicted artifact failed",
			"path", filepath.Base(c.entry.Path), "checksum", c.checksum, "error", err)
	}
	return nil
}
