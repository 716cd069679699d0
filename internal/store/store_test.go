package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clipvault/internal/clip"
	"clipvault/internal/testutil"
)

type fixture struct {
	store     *ChecksumStore
	db        clip.Database
	sourceDir string
	backupDir string
}

func newFixture(t *testing.T, algorithm string) *fixture {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	backupDir := filepath.Join(t.TempDir(), "backup")
	s, err := NewChecksumStore(backupDir, algorithm, db, clip.NewDirLock(), testutil.FixedClock(), clip.NewNopLogger())
	if err != nil {
		t.Fatalf("NewChecksumStore() error = %v", err)
	}
	return &fixture{store: s, db: db, sourceDir: t.TempDir(), backupDir: backupDir}
}

func (f *fixture) source(t *testing.T, name string, data []byte) string {
	t.Helper()
	return testutil.WriteFile(t, f.sourceDir, name, data)
}

func backupNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewChecksumStore(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	tests := []struct {
		name      string
		dir       string
		algorithm string
	}{
		{"empty dir", "", "md5"},
		{"unknown algorithm", t.TempDir(), "crc32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChecksumStore(tt.dir, tt.algorithm, db, clip.NewDirLock(), testutil.FixedClock(), nil)
			if !errors.Is(err, clip.ErrConfig) {
				t.Errorf("NewChecksumStore() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestChecksumStore_Store(t *testing.T) {
	ctx := context.Background()

	t.Run("copies and registers new content", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		data := []byte("png bytes")
		src := f.source(t, "a.png", data)
		sum := testutil.MD5Hex(data)

		a, err := f.store.Store(ctx, src, sum, "a.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if a.Path != filepath.Join(f.store.Dir(), "a.png") {
			t.Errorf("Path = %s", a.Path)
		}
		if a.Size != int64(len(data)) {
			t.Errorf("Size = %d, want %d", a.Size, len(data))
		}
		if !a.CreatedAt.Equal(testutil.FixedClock().Now()) {
			t.Errorf("CreatedAt = %v, want clock time", a.CreatedAt)
		}
		got, err := os.ReadFile(a.Path)
		if err != nil || !bytes.Equal(got, data) {
			t.Errorf("stored content = %q, %v", got, err)
		}

		reg, _ := f.db.FindArtifact(sum)
		if reg == nil || reg.Path != a.Path {
			t.Errorf("artifact not registered: %+v", reg)
		}
	})

	t.Run("second store of same checksum is a no-op", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		data := []byte("same")
		sum := testutil.MD5Hex(data)
		first, err := f.store.Store(ctx, f.source(t, "a.png", data), sum, "a.png")
		if err != nil {
			t.Fatal(err)
		}

		// Different name and a checksum in upper case still hit the registration.
		second, err := f.store.Store(ctx, f.source(t, "b.png", data), "  "+strings.ToUpper(sum), "b.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if second.Path != first.Path {
			t.Errorf("second Path = %s, want %s", second.Path, first.Path)
		}
		if names := backupNames(t, f.backupDir); len(names) != 1 {
			t.Errorf("backup dir = %v, want a single file", names)
		}
	})

	t.Run("name collision with different content gets a suffix", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		testutil.WriteFile(t, f.backupDir, "a.png", []byte("old content"))
		testutil.WriteFile(t, f.backupDir, "a_1.png", []byte("older content"))

		data := []byte("new content")
		a, err := f.store.Store(ctx, f.source(t, "a.png", data), testutil.MD5Hex(data), "a.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if filepath.Base(a.Path) != "a_2.png" {
			t.Errorf("stored as %s, want a_2.png", filepath.Base(a.Path))
		}
		if got, _ := os.ReadFile(filepath.Join(f.backupDir, "a.png")); string(got) != "old content" {
			t.Errorf("existing file was overwritten: %q", got)
		}
	})

	t.Run("existing file with matching content is adopted", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		data := []byte("already here")
		existing := testutil.WriteFile(t, f.backupDir, "a.png", data)

		a, err := f.store.Store(ctx, f.source(t, "a.png", data), testutil.MD5Hex(data), "a.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if a.Path != existing {
			t.Errorf("Path = %s, want adopted %s", a.Path, existing)
		}
		if names := backupNames(t, f.backupDir); len(names) != 1 {
			t.Errorf("backup dir = %v, want only the adopted file", names)
		}
	})

	t.Run("directory and symlink candidates count as collisions", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		if err := os.Mkdir(filepath.Join(f.backupDir, "a.png"), 0o755); err != nil {
			t.Fatal(err)
		}
		data := []byte("x")
		target := testutil.WriteFile(t, t.TempDir(), "target", data)
		if err := os.Symlink(target, filepath.Join(f.backupDir, "a_1.png")); err != nil {
			t.Fatal(err)
		}

		a, err := f.store.Store(ctx, f.source(t, "a.png", data), testutil.MD5Hex(data), "a.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if filepath.Base(a.Path) != "a_2.png" {
			t.Errorf("stored as %s, want a_2.png", filepath.Base(a.Path))
		}
	})

	t.Run("vanished registration is re-stored", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		data := []byte("evicted earlier")
		sum := testutil.MD5Hex(data)
		src := f.source(t, "a.png", data)
		first, err := f.store.Store(ctx, src, sum, "a.png")
		if err != nil {
			t.Fatal(err)
		}
		if err := os.Remove(first.Path); err != nil {
			t.Fatal(err)
		}

		second, err := f.store.Store(ctx, src, sum, "a.png")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if _, err := os.Stat(second.Path); err != nil {
			t.Errorf("re-stored file missing: %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		_, err := f.store.Store(ctx, filepath.Join(f.sourceDir, "gone.png"), "abc", "gone.png")
		if !errors.Is(err, clip.ErrSourceMissing) {
			t.Errorf("Store() error = %v, want ErrSourceMissing", err)
		}
		if a, _ := f.db.FindArtifact("abc"); a != nil {
			t.Error("artifact registered for missing source")
		}
	})

	t.Run("unsafe name", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		src := f.source(t, "a.png", []byte("x"))
		_, err := f.store.Store(ctx, src, "abc", "../a.png")
		if !errors.Is(err, clip.ErrSourceMissing) {
			t.Errorf("Store() error = %v, want ErrSourceMissing", err)
		}
	})

	t.Run("empty checksum", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		src := f.source(t, "a.png", []byte("x"))
		if _, err := f.store.Store(ctx, src, " ", "a.png"); err == nil {
			t.Error("Store() expected error for empty checksum")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		src := f.source(t, "a.png", []byte("x"))
		if _, err := f.store.Store(cctx, src, "abc", "a.png"); !errors.Is(err, context.Canceled) {
			t.Errorf("Store() error = %v, want context.Canceled", err)
		}
	})

	t.Run("preserves mode and mtime", func(t *testing.T) {
		f := newFixture(t, HashMD5)
		data := []byte("exec")
		src := f.source(t, "run.sh", data)
		if err := os.Chmod(src, 0o750); err != nil {
			t.Fatal(err)
		}
		mtime := testutil.FixedClock().Now().Add(-24 * time.Hour)
		if err := os.Chtimes(src, mtime, mtime); err != nil {
			t.Fatal(err)
		}

		a, err := f.store.Store(ctx, src, testutil.MD5Hex(data), "run.sh")
		if err != nil {
			t.Fatal(err)
		}
		info, err := os.Stat(a.Path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o750 {
			t.Errorf("mode = %v, want 0750", info.Mode().Perm())
		}
		if !info.ModTime().Equal(mtime) {
			t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
		}
	})
}

func TestChecksumStore_CopyFailure(t *testing.T) {
	f := newFixture(t, HashMD5)
	var tmpSeen string
	f.store.rename = func(oldpath, _ string) error {
		tmpSeen = oldpath
		return errors.New("disk full")
	}
	data := []byte("never lands")
	sum := testutil.MD5Hex(data)

	_, err := f.store.Store(context.Background(), f.source(t, "a.png", data), sum, "a.png")
	if !errors.Is(err, clip.ErrIOFailure) {
		t.Fatalf("Store() error = %v, want ErrIOFailure", err)
	}
	if !strings.HasPrefix(filepath.Base(tmpSeen), ".tmp-") {
		t.Errorf("rename source = %q, want a temp file", tmpSeen)
	}
	if names := backupNames(t, f.backupDir); len(names) != 0 {
		t.Errorf("backup dir = %v, want empty", names)
	}
	if a, err := f.db.FindArtifact(sum); err != nil || a != nil {
		t.Errorf("FindArtifact() = %+v, %v, want nothing registered", a, err)
	}
}

func TestChecksumStore_ConcurrentSameChecksum(t *testing.T) {
	f := newFixture(t, HashMD5)
	data := []byte("race")
	sum := testutil.MD5Hex(data)
	src := f.source(t, "a.png", data)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.Store(context.Background(), src, sum, "a.png")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Store() error = %v", err)
		}
	}
	if names := backupNames(t, f.backupDir); len(names) != 1 {
		t.Errorf("backup dir = %v, want one file", names)
	}
}

func TestChecksumStore_OpenRoundTrip(t *testing.T) {
	f := newFixture(t, HashSHA256)
	data := []byte("round trip payload")
	src := f.source(t, "doc.pdf", data)

	sum, err := f.store.Checksum(src)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if sum != testutil.SHA256Hex(data) {
		t.Errorf("Checksum() = %s, want sha256", sum)
	}
	if _, err := f.store.Store(context.Background(), src, sum, "doc.pdf"); err != nil {
		t.Fatal(err)
	}

	rc, a, err := f.store.Open(sum)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) {
		t.Errorf("Open() content = %q, want %q", got, data)
	}
	if a.Checksum != sum {
		t.Errorf("Open() artifact checksum = %s", a.Checksum)
	}

	if _, _, err := f.store.Open("unknown"); err == nil {
		t.Error("Open() expected error for unknown checksum")
	}
}

func TestChecksumStore_Lookup(t *testing.T) {
	f := newFixture(t, HashMD5)
	data := []byte("lookup")
	sum := testutil.MD5Hex(data)
	a, err := f.store.Store(context.Background(), f.source(t, "a.png", data), sum, "a.png")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.store.Lookup(sum)
	if err != nil || got == nil {
		t.Fatalf("Lookup() = %v, %v", got, err)
	}

	os.Remove(a.Path)
	got, err = f.store.Lookup(sum)
	if err != nil || got != nil {
		t.Errorf("Lookup() after removal = %v, %v; want nil, nil", got, err)
	}
}

func TestChecksumStore_MissingSourceHash(t *testing.T) {
	f := newFixture(t, HashMD5)
	_, err := f.store.Checksum(filepath.Join(f.sourceDir, "missing"))
	if !errors.Is(err, clip.ErrSourceMissing) {
		t.Errorf("Checksum() error = %v, want ErrSourceMissing", err)
	}
}
