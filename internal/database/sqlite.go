package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"clipvault/internal/clip"
	"clipvault/internal/database/migrations"
	"clipvault/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteDatabase implements clip.Database using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ clip.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens a SQLite database and brings its schema up to date.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := migrations.Verify(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema not usable: %w", err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is in place.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection.
// Exported for tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writers and keeps ":memory:" databases
	// from splitting into one database per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Artifact operations

const artifactColumns = "checksum, path, size, created_at"

func (s *SQLiteDatabase) FindArtifact(checksum string) (*model.Artifact, error) {
	row := s.db.QueryRow("SELECT "+artifactColumns+" FROM artifacts WHERE checksum = ?",
		strings.ToLower(checksum))
	a, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find artifact: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) FindArtifactByPath(path string) (*model.Artifact, error) {
	row := s.db.QueryRow("SELECT "+artifactColumns+" FROM artifacts WHERE path = ?", path)
	a, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find artifact by path: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) ListArtifacts() ([]*model.Artifact, error) {
	rows, err := s.db.Query("SELECT " + artifactColumns + " FROM artifacts ORDER BY created_at, checksum")
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) CreateArtifact(a *model.Artifact) error {
	if a == nil || a.Checksum == "" || a.Path == "" {
		return fmt.Errorf("artifact requires checksum and path")
	}
	_, err := s.db.Exec("INSERT INTO artifacts ("+artifactColumns+") VALUES (?, ?, ?, ?)",
		strings.ToLower(a.Checksum), a.Path, a.Size, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteArtifact(checksum string) error {
	if _, err := s.db.Exec("DELETE FROM artifacts WHERE checksum = ?", strings.ToLower(checksum)); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// History operations

const historyColumns = "id, uuid, payload_type, raw_payload, clipboard_value, source_device, tag, checksum, timestamp"

func (s *SQLiteDatabase) AppendHistory(r *model.HistoryRecord) error {
	if r == nil || r.UUID == "" {
		return fmt.Errorf("history record requires uuid")
	}
	res, err := s.db.Exec(`INSERT INTO history
		(uuid, payload_type, raw_payload, clipboard_value, source_device, tag, checksum, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, string(r.PayloadType), r.RawPayload, r.ClipboardValue,
		nullString(r.SourceDevice), nullString(r.Tag), nullString(strings.ToLower(r.Checksum)),
		formatTime(r.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history id: %w", err)
	}
	r.ID = id
	return nil
}

func (s *SQLiteDatabase) FindHistoryByUUID(uuid string) (*model.HistoryRecord, error) {
	row := s.db.QueryRow("SELECT "+historyColumns+" FROM history WHERE uuid = ?", uuid)
	r, err := scanHistory(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find history record: %w", err)
	}
	return r, nil
}

func (s *SQLiteDatabase) ListHistory(f model.HistoryFilter) ([]*model.HistoryRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "payload_type = ?")
		args = append(args, string(f.Type))
	}
	if f.SourceDevice != "" {
		where = append(where, "source_device = ?")
		args = append(args, f.SourceDevice)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, formatTime(f.Until))
	}

	query := "SELECT " + historyColumns + " FROM history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var out []*model.HistoryRecord
	for rows.Next() {
		r, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) CountHistory() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) MaxHistoryID() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to read max history id: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) PruneHistory(maxItems int, olderThan time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	if !olderThan.IsZero() {
		res, err := tx.Exec("DELETE FROM history WHERE timestamp < ?", formatTime(olderThan))
		if err != nil {
			return 0, fmt.Errorf("failed to prune history by age: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if maxItems > 0 {
		res, err := tx.Exec(`DELETE FROM history WHERE id NOT IN
			(SELECT id FROM history ORDER BY timestamp DESC, id DESC LIMIT ?)`, maxItems)
		if err != nil {
			return 0, fmt.Errorf("failed to prune history by count: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return total, nil
}

// Setting operations

func (s *SQLiteDatabase) GetSetting(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteDatabase) SetSetting(key, value string) error {
	if _, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// BackupTo writes a consistent snapshot to destPath using VACUUM INTO.
// destPath must not already exist.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", destPath)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*model.Artifact, error) {
	var (
		a       model.Artifact
		created string
	)
	err := row.Scan(&a.Checksum, &a.Path, &a.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanHistory(row rowScanner) (*model.HistoryRecord, error) {
	var (
		r                          model.HistoryRecord
		payloadType, ts            string
		device, tag, checksum, raw sql.NullString
		value                      sql.NullString
	)
	err := row.Scan(&r.ID, &r.UUID, &payloadType, &raw, &value, &device, &tag, &checksum, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.PayloadType = model.PayloadType(payloadType)
	r.RawPayload = raw.String
	r.ClipboardValue = value.String
	r.SourceDevice = device.String
	r.Tag = tag.String
	r.Checksum = checksum.String
	if r.Timestamp, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
