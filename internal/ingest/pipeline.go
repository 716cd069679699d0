// Package ingest turns writes to the clipboard-sync file into history
// records, storing binary payloads through the checksum store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clipvault/internal/clip"
	"clipvault/internal/config"
	"clipvault/internal/fs"
	"clipvault/internal/model"
)

// ArtifactStore is the part of the checksum store the pipeline needs.
type ArtifactStore interface {
	Store(ctx context.Context, sourcePath, checksum, preferredName string) (*model.Artifact, error)
	Checksum(path string) (string, error)
}

// Pipeline processes sync file changes one at a time. It remembers the last
// processed content so that rewrites of an unchanged clipboard produce no
// new history.
type Pipeline struct {
	syncFile  string
	sourceDir string
	debounce  time.Duration

	store    ArtifactStore
	history  clip.HistoryLog
	notifier clip.Notifier
	clock    clip.Clock
	ids      clip.IDGenerator
	logger   clip.Logger

	mu      sync.Mutex
	last    any
	hasLast bool
}

func NewPipeline(cfg config.IngestConfig, store ArtifactStore, history clip.HistoryLog, notifier clip.Notifier, clock clip.Clock, ids clip.IDGenerator, logger clip.Logger) *Pipeline {
	if notifier == nil {
		notifier = clip.NopNotifier{}
	}
	if logger == nil {
		logger = clip.NewNopLogger()
	}
	return &Pipeline{
		syncFile:  cfg.SyncFile,
		sourceDir: cfg.SourceDir,
		debounce:  cfg.Debounce(),
		store:     store,
		history:   history,
		notifier:  notifier,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Prime records the current sync file content as already processed, so a
// clipboard that predates startup is not logged again.
func (p *Pipeline) Prime() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, decoded, err := p.read()
	if err != nil {
		return err
	}
	p.last, p.hasLast = decoded, true
	return nil
}

// OnFileChanged reads the sync file and, if its content differs from the
// last processed content, appends a history record and notifies. It returns
// nil, nil when nothing changed.
//
// Errors wrapping clip.ErrParse leave the pipeline untouched, so the next
// write is processed normally. Payload problems never fail the call: the
// record is kept without a checksum.
func (p *Pipeline) OnFileChanged(ctx context.Context) (*model.HistoryRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, decoded, err := p.read()
	if err != nil {
		return nil, err
	}
	if p.hasLast && reflect.DeepEqual(decoded, p.last) {
		return nil, nil
	}

	var ev model.SyncEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrParse, err)
	}
	payloadType, err := model.ParsePayloadType(ev.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrParse, err)
	}

	rec := &model.HistoryRecord{
		UUID:           p.ids.New(),
		PayloadType:    payloadType,
		RawPayload:     string(raw),
		ClipboardValue: ev.Clipboard,
		SourceDevice:   ev.From,
		Tag:            ev.Tag,
		Timestamp:      p.clock.Now(),
	}
	if payloadType.HasArtifact() {
		rec.Checksum = p.storeArtifact(ctx, payloadType, ev)
	}

	if err := p.history.AppendHistory(rec); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	p.last, p.hasLast = decoded, true

	p.logger.Info("clipboard change recorded",
		"type", rec.PayloadType, "from", rec.SourceDevice, "checksum", rec.Checksum)
	p.notifier.Notify()
	return rec, nil
}

// Watch processes sync file changes until ctx is done. Events for other
// files in the same directory are ignored; bursts are coalesced by the
// debounce interval.
func (p *Pipeline) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.syncFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sync dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch sync dir: %w", err)
	}
	name := filepath.Base(p.syncFile)
	p.logger.Info("watching sync file", "path", p.syncFile)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if p.debounce <= 0 {
				p.handle(ctx)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
			} else {
				timer.Reset(p.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			p.handle(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", "error", err)

		case <-ctx.Done():
			p.logger.Info("sync file watcher stopped")
			return nil
		}
	}
}

func (p *Pipeline) handle(ctx context.Context) {
	if _, err := p.OnFileChanged(ctx); err != nil {
		if errors.Is(err, clip.ErrParse) {
			p.logger.Warn("skipping unreadable sync file", "path", p.syncFile, "error", err)
			return
		}
		p.logger.Error("processing sync file failed", "error", err)
	}
}

// read returns the raw bytes and their generic JSON decoding.
func (p *Pipeline) read() ([]byte, any, error) {
	raw, err := os.ReadFile(p.syncFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading sync file: %v", clip.ErrParse, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", clip.ErrParse, err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		return nil, nil, fmt.Errorf("%w: sync file is not a JSON object", clip.ErrParse)
	}
	return raw, decoded, nil
}

// storeArtifact stores the payload file named by the event and returns its
// checksum, or "" when nothing could be stored.
func (p *Pipeline) storeArtifact(ctx context.Context, payloadType model.PayloadType, ev model.SyncEvent) string {
	name, err := fs.SafeName(ev.File)
	if err != nil {
		p.logger.Warn("payload file name rejected", "error", fmt.Errorf("%w: %v", clip.ErrSourceMissing, err))
		return ""
	}
	src := filepath.Join(p.sourceDir, name)

	checksum := ev.Clipboard
	if payloadType == model.PayloadGroup {
		// Group payloads carry no usable checksum; hash the bundle ourselves.
		if checksum, err = p.store.Checksum(src); err != nil {
			p.logger.Warn("hashing group payload failed", "path", src, "error", err)
			return ""
		}
	}

	a, err := p.store.Store(ctx, src, checksum, name)
	if err != nil {
		if errors.Is(err, clip.ErrSourceMissing) {
			p.logger.Warn("payload file missing, recording without backup", "path", src)
		} else {
			p.logger.Error("storing payload failed, recording without backup", "path", src, "error", err)
		}
		return ""
	}
	return a.Checksum
}
