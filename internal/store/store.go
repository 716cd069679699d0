// Package store implements the content-addressed backup directory. Every
// stored artifact is keyed by checksum and kept at most once, however many
// times the same payload is observed.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"clipvault/internal/clip"
	"clipvault/internal/fs"
	"clipvault/internal/model"
)

// maxProbe bounds the name_N search so a pathological directory cannot spin forever.
const maxProbe = 10000

// ChecksumStore copies payload files into the backup directory, deduplicated
// by checksum, and registers each copy in the artifact index.
type ChecksumStore struct {
	dir     string
	newHash func() hash.Hash
	index   clip.ArtifactIndex
	lock    *clip.DirLock
	clock   clip.Clock
	logger  clip.Logger
	rename  func(oldpath, newpath string) error
}

// NewChecksumStore creates a store rooted at dir, creating the directory if needed.
func NewChecksumStore(dir, algorithm string, index clip.ArtifactIndex, lock *clip.DirLock, clock clip.Clock, logger clip.Logger) (*ChecksumStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: backup dir is required", clip.ErrConfig)
	}
	newHash, err := NewHashFunc(algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrConfig, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving backup dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	if logger == nil {
		logger = clip.NewNopLogger()
	}
	return &ChecksumStore{
		dir:     abs,
		newHash: newHash,
		index:   index,
		lock:    lock,
		clock:   clock,
		logger:  logger,
		rename:  os.Rename,
	}, nil
}

// Dir returns the absolute backup directory.
func (s *ChecksumStore) Dir() string {
	return s.dir
}

// Checksum hashes a file with the store's algorithm.
func (s *ChecksumStore) Checksum(path string) (string, error) {
	sum, err := HashFile(s.newHash, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", clip.ErrSourceMissing, path)
		}
		return "", fmt.Errorf("%w: hashing %s: %v", clip.ErrIOFailure, path, err)
	}
	return sum, nil
}

// Store ensures the content of sourcePath is kept under checksum. A live
// artifact for checksum is returned as is. Otherwise the file is copied to
// preferredName, or the first free name_N variant, unless a file with the same
// content already sits at one of those names, in which case it is adopted.
func (s *ChecksumStore) Store(ctx context.Context, sourcePath, checksum, preferredName string) (*model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	checksum = NormalizeChecksum(checksum)
	if checksum == "" {
		return nil, fmt.Errorf("checksum is required")
	}
	name, err := fs.SafeName(preferredName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrSourceMissing, err)
	}

	var artifact *model.Artifact
	err = s.lock.Do(func() error {
		existing, err := s.live(checksum)
		if err != nil {
			return err
		}
		if existing != nil {
			artifact = existing
			return nil
		}

		src, ok, err := fs.StatRegular(sourcePath)
		if err != nil {
			return fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", clip.ErrSourceMissing, sourcePath)
		}

		dest, adopt, err := s.resolve(name, checksum)
		if err != nil {
			return err
		}

		size := src.Size
		if adopt {
			s.logger.Info("adopting existing backup file", "path", dest, "checksum", checksum)
			if e, ok, _ := fs.StatRegular(dest); ok {
				size = e.Size
			}
		} else {
			if size, err = s.copyAtomic(sourcePath, dest); err != nil {
				return fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
			}
		}

		a := &model.Artifact{Checksum: checksum, Path: dest, Size: size, CreatedAt: s.clock.Now()}
		if err := s.index.CreateArtifact(a); err != nil {
			if !adopt {
				os.Remove(dest)
			}
			return fmt.Errorf("%w: registering artifact: %v", clip.ErrIOFailure, err)
		}
		s.logger.Debug("stored artifact", "checksum", checksum, "path", dest, "size", size)
		artifact = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// Lookup returns the live artifact for checksum, or nil.
func (s *ChecksumStore) Lookup(checksum string) (*model.Artifact, error) {
	a, err := s.index.FindArtifact(NormalizeChecksum(checksum))
	if err != nil {
		return nil, err
	}
	if a == nil || !fs.IsRegularFile(a.Path) {
		return nil, nil
	}
	return a, nil
}

// Open returns a reader over the stored content for checksum.
func (s *ChecksumStore) Open(checksum string) (io.ReadCloser, *model.Artifact, error) {
	a, err := s.Lookup(checksum)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, fmt.Errorf("no artifact stored for checksum %s", checksum)
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
	}
	return f, a, nil
}

// live returns the registered artifact for checksum if its file is still
// present. A registration whose file vanished is dropped.
func (s *ChecksumStore) live(checksum string) (*model.Artifact, error) {
	a, err := s.index.FindArtifact(checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
	}
	if a == nil {
		return nil, nil
	}
	if fs.IsRegularFile(a.Path) {
		return a, nil
	}
	s.logger.Warn("registered artifact missing on disk, re-storing", "checksum", checksum, "path", a.Path)
	if err := s.index.DeleteArtifact(checksum); err != nil {
		return nil, fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
	}
	return nil, nil
}

// resolve walks name, name_1, name_2 ... and returns the first usable
// destination. adopt is true when that destination already holds content
// with the wanted checksum.
func (s *ChecksumStore) resolve(name, checksum string) (string, bool, error) {
	for n := 0; n <= maxProbe; n++ {
		candidate := name
		if n > 0 {
			candidate = fs.SuffixedName(name, n)
		}
		dest := filepath.Join(s.dir, candidate)

		info, err := os.Lstat(dest)
		if errors.Is(err, os.ErrNotExist) {
			if err := s.dropStale(dest); err != nil {
				return "", false, err
			}
			return dest, false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}

		owner, err := s.index.FindArtifactByPath(dest)
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
		}
		if owner != nil {
			continue
		}

		sum, err := HashFile(s.newHash, dest)
		if err != nil {
			return "", false, fmt.Errorf("%w: hashing %s: %v", clip.ErrIOFailure, dest, err)
		}
		if sum == checksum {
			return dest, true, nil
		}
	}
	return "", false, fmt.Errorf("%w: no free name for %s after %d attempts", clip.ErrIOFailure, name, maxProbe)
}

// dropStale removes a registration pointing at a path whose file is gone,
// so the path can be reused.
func (s *ChecksumStore) dropStale(path string) error {
	owner, err := s.index.FindArtifactByPath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
	}
	if owner == nil {
		return nil
	}
	if err := s.index.DeleteArtifact(owner.Checksum); err != nil {
		return fmt.Errorf("%w: %v", clip.ErrIOFailure, err)
	}
	return nil
}

// copyAtomic copies src to dest through a temp file in dest's directory,
// preserving mode and modification time. Returns the copied length.
func (s *ChecksumStore) copyAtomic(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), fs.TempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return 0, fmt.Errorf("copying: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("setting mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("setting times: %w", err)
	}
	if err := s.rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return n, nil
}
