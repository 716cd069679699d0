package database

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"clipvault/internal/model"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func TestSQLiteDatabase_Artifacts(t *testing.T) {
	t.Run("returns nil when artifact not found", func(t *testing.T) {
		db := newTestDB(t)

		a, err := db.FindArtifact("missing")
		if err != nil {
			t.Fatalf("FindArtifact() error = %v", err)
		}
		if a != nil {
			t.Errorf("FindArtifact() = %v, want nil", a)
		}
	})

	t.Run("create then find by checksum and path", func(t *testing.T) {
		db := newTestDB(t)

		want := &model.Artifact{Checksum: "ABCDEF", Path: "/backup/a.png", Size: 42, CreatedAt: base}
		if err := db.CreateArtifact(want); err != nil {
			t.Fatalf("CreateArtifact() error = %v", err)
		}

		got, err := db.FindArtifact("abcdef")
		if err != nil || got == nil {
			t.Fatalf("FindArtifact() = %v, %v", got, err)
		}
		if got.Checksum != "abcdef" {
			t.Errorf("Checksum = %q, want lowercase abcdef", got.Checksum)
		}
		if got.Path != want.Path || got.Size != want.Size || !got.CreatedAt.Equal(base) {
			t.Errorf("FindArtifact() = %+v, want %+v", got, want)
		}

		byPath, err := db.FindArtifactByPath("/backup/a.png")
		if err != nil || byPath == nil {
			t.Fatalf("FindArtifactByPath() = %v, %v", byPath, err)
		}
		if byPath.Checksum != "abcdef" {
			t.Errorf("FindArtifactByPath().Checksum = %q", byPath.Checksum)
		}
	})

	t.Run("duplicate checksum is rejected", func(t *testing.T) {
		db := newTestDB(t)

		a := &model.Artifact{Checksum: "abc", Path: "/backup/a", Size: 1, CreatedAt: base}
		if err := db.CreateArtifact(a); err != nil {
			t.Fatalf("CreateArtifact() error = %v", err)
		}
		dup := &model.Artifact{Checksum: "ABC", Path: "/backup/b", Size: 1, CreatedAt: base}
		if err := db.CreateArtifact(dup); err == nil {
			t.Error("CreateArtifact() expected error for duplicate checksum")
		}
	})

	t.Run("list is oldest first", func(t *testing.T) {
		db := newTestDB(t)

		for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
			a := &model.Artifact{
				Checksum:  fmt.Sprintf("c%d", i),
				Path:      fmt.Sprintf("/backup/%d", i),
				Size:      1,
				CreatedAt: base.Add(offset),
			}
			if err := db.CreateArtifact(a); err != nil {
				t.Fatalf("CreateArtifact() error = %v", err)
			}
		}

		list, err := db.ListArtifacts()
		if err != nil {
			t.Fatalf("ListArtifacts() error = %v", err)
		}
		var got []string
		for _, a := range list {
			got = append(got, a.Checksum)
		}
		want := []string{"c1", "c2", "c0"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("ListArtifacts() order = %v, want %v", got, want)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		db := newTestDB(t)

		a := &model.Artifact{Checksum: "abc", Path: "/backup/a", Size: 1, CreatedAt: base}
		if err := db.CreateArtifact(a); err != nil {
			t.Fatalf("CreateArtifact() error = %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := db.DeleteArtifact("abc"); err != nil {
				t.Fatalf("DeleteArtifact() error = %v", err)
			}
		}
		if got, _ := db.FindArtifact("abc"); got != nil {
			t.Errorf("artifact still registered after delete: %+v", got)
		}
	})
}

func appendRecords(t *testing.T, db *SQLiteDatabase, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := &model.HistoryRecord{
			UUID:           fmt.Sprintf("u-%d", i),
			PayloadType:    model.PayloadText,
			RawPayload:     `{"Type":"Text"}`,
			ClipboardValue: fmt.Sprintf("value %d", i),
			SourceDevice:   []string{"laptop", "phone"}[i%2],
			Timestamp:      base.Add(time.Duration(i) * step),
		}
		if err := db.AppendHistory(r); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
		if r.ID == 0 {
			t.Fatal("AppendHistory() did not set ID")
		}
	}
}

func TestSQLiteDatabase_History(t *testing.T) {
	t.Run("append and find by uuid", func(t *testing.T) {
		db := newTestDB(t)

		rec := &model.HistoryRecord{
			UUID:           "u-1",
			PayloadType:    model.PayloadImage,
			RawPayload:     `{"Type":"Image","File":"a.png"}`,
			ClipboardValue: "a.png",
			Checksum:       "ABC",
			Timestamp:      base,
		}
		if err := db.AppendHistory(rec); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}

		got, err := db.FindHistoryByUUID("u-1")
		if err != nil || got == nil {
			t.Fatalf("FindHistoryByUUID() = %v, %v", got, err)
		}
		if got.PayloadType != model.PayloadImage || got.ClipboardValue != "a.png" {
			t.Errorf("FindHistoryByUUID() = %+v", got)
		}
		if got.Checksum != "abc" {
			t.Errorf("Checksum = %q, want abc", got.Checksum)
		}
		if got.SourceDevice != "" || got.Tag != "" {
			t.Errorf("empty optional fields should round-trip empty, got %+v", got)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, base)
		}
	})

	t.Run("missing uuid returns nil", func(t *testing.T) {
		db := newTestDB(t)
		got, err := db.FindHistoryByUUID("nope")
		if err != nil || got != nil {
			t.Errorf("FindHistoryByUUID() = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("count and max id", func(t *testing.T) {
		db := newTestDB(t)

		if id, _ := db.MaxHistoryID(); id != 0 {
			t.Errorf("MaxHistoryID() on empty log = %d, want 0", id)
		}
		appendRecords(t, db, 3, time.Minute)

		n, err := db.CountHistory()
		if err != nil || n != 3 {
			t.Errorf("CountHistory() = %d, %v; want 3", n, err)
		}
		id, err := db.MaxHistoryID()
		if err != nil || id != 3 {
			t.Errorf("MaxHistoryID() = %d, %v; want 3", id, err)
		}
	})

	tests := []struct {
		name   string
		filter model.HistoryFilter
		want   []string
	}{
		{"all newest first", model.HistoryFilter{}, []string{"u-4", "u-3", "u-2", "u-1", "u-0"}},
		{"limit", model.HistoryFilter{Limit: 2}, []string{"u-4", "u-3"}},
		{"limit and offset", model.HistoryFilter{Limit: 2, Offset: 1}, []string{"u-3", "u-2"}},
		{"device", model.HistoryFilter{SourceDevice: "phone"}, []string{"u-3", "u-1"}},
		{"type mismatch", model.HistoryFilter{Type: model.PayloadImage}, nil},
		{"since", model.HistoryFilter{Since: base.Add(3 * time.Minute)}, []string{"u-4", "u-3"}},
		{"until", model.HistoryFilter{Until: base.Add(time.Minute)}, []string{"u-0"}},
	}
	for _, tt := range tests {
		t.Run("list "+tt.name, func(t *testing.T) {
			db := newTestDB(t)
			appendRecords(t, db, 5, time.Minute)

			list, err := db.ListHistory(tt.filter)
			if err != nil {
				t.Fatalf("ListHistory() error = %v", err)
			}
			var got []string
			for _, r := range list {
				got = append(got, r.UUID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ListHistory() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSQLiteDatabase_PruneHistory(t *testing.T) {
	tests := []struct {
		name      string
		maxItems  int
		olderThan time.Time
		deleted   int64
		remaining int64
	}{
		{"disabled", 0, time.Time{}, 0, 10},
		{"by count", 4, time.Time{}, 6, 4},
		{"by age", 0, base.Add(3 * time.Hour), 3, 7},
		{"both", 5, base.Add(7 * time.Hour), 7, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			appendRecords(t, db, 10, time.Hour)

			n, err := db.PruneHistory(tt.maxItems, tt.olderThan)
			if err != nil {
				t.Fatalf("PruneHistory() error = %v", err)
			}
			if n != tt.deleted {
				t.Errorf("PruneHistory() deleted %d, want %d", n, tt.deleted)
			}
			if c, _ := db.CountHistory(); c != tt.remaining {
				t.Errorf("CountHistory() = %d, want %d", c, tt.remaining)
			}
			// The newest record always survives.
			if tt.remaining > 0 {
				if r, _ := db.FindHistoryByUUID("u-9"); r == nil {
					t.Error("newest record was pruned")
				}
			}
		})
	}
}

func TestSQLiteDatabase_Settings(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := db.GetSetting("max_storage"); err != nil || ok {
		t.Fatalf("GetSetting() on empty = ok %v, err %v", ok, err)
	}
	if err := db.SetSetting("max_storage", "500MB"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := db.SetSetting("max_storage", "2GB"); err != nil {
		t.Fatalf("SetSetting() replace error = %v", err)
	}
	v, ok, err := db.GetSetting("max_storage")
	if err != nil || !ok || v != "2GB" {
		t.Errorf("GetSetting() = %q, %v, %v; want 2GB, true, nil", v, ok, err)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	db := newTestDB(t)
	appendRecords(t, db, 3, time.Minute)

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()

	if n, _ := restored.CountHistory(); n != 3 {
		t.Errorf("backup CountHistory() = %d, want 3", n)
	}

	if err := db.BackupTo(dest); err == nil {
		t.Error("BackupTo() over existing file should fail")
	}
}
