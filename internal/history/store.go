// Package history persists ScanResult outcomes into an embedded relational
// database, keyed by physical location (nasHost, folderPath, timestamp)
// rather than by scan identity, with bounded retention per slug.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dirscan/internal/metrics"
	"dirscan/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_history (
	id TEXT PRIMARY KEY,
	nas_host TEXT NOT NULL,
	folder_path TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	slug TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	scan_error TEXT,
	success INTEGER NOT NULL,
	num_dir INTEGER NOT NULL DEFAULT 0,
	num_file INTEGER NOT NULL DEFAULT 0,
	total_size_bytes INTEGER NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	item_error TEXT,
	UNIQUE(nas_host, folder_path, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_scan_history_slug_ts ON scan_history(slug, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_scan_history_host_path ON scan_history(nas_host, folder_path);
CREATE INDEX IF NOT EXISTS idx_scan_history_path ON scan_history(folder_path);
CREATE INDEX IF NOT EXISTS idx_scan_history_host ON scan_history(nas_host);
CREATE INDEX IF NOT EXISTS idx_scan_history_ts ON scan_history(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_scan_history_status ON scan_history(status);
`

// Store is the embedded HistoryStore. One instance owns one database file
// for the life of the process; writes are serialized by the caller (the
// ScanExecutor runs at most one scan per slug at a time).
type Store struct {
	db         *sql.DB
	maxHistory int
}

// Options tunes a Store at open time.
type Options struct {
	MaxHistory int
}

// Open opens (creating if absent) the SQLite database at path, applies
// pragmas for durability and single-writer throughput, and ensures the
// schema exists.
func Open(path string, opts Options) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, &model.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA cache_size = -16000;`); err != nil {
		db.Close()
		return nil, &model.StorageError{Op: "pragma", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &model.StorageError{Op: "migrate", Err: err}
	}

	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Store{db: db, maxHistory: maxHistory}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health probes. Writes must still go
// through the Store's methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ErrCannotPersistRunning guards against persisting in-flight scan state:
// only terminal statuses ever reach the history table.
var ErrCannotPersistRunning = errors.New("history: running scan state is never persisted")

// AddResult persists one scan execution. Successful items are each upserted
// on their primary key, making retries idempotent. If no item succeeded, a
// single sentinel row is written so the failure is still observable. After
// insert, history for the slug is pruned to the most recent maxHistory
// distinct timestamps.
func (s *Store) AddResult(slug, name string, result model.ScanResult, nasHost string) error {
	if result.Status == model.StatusRunning {
		return ErrCannotPersistRunning
	}
	writeStart := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return &model.StorageError{Op: "AddResult.begin", Err: err}
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO scan_history
	(id, nas_host, folder_path, timestamp, slug, name, status, scan_error, success, num_dir, num_file, total_size_bytes, elapsed_ms, item_error)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(nas_host, folder_path, timestamp) DO UPDATE SET
	slug=excluded.slug, name=excluded.name, status=excluded.status, scan_error=excluded.scan_error,
	success=excluded.success, num_dir=excluded.num_dir, num_file=excluded.num_file,
	total_size_bytes=excluded.total_size_bytes, elapsed_ms=excluded.elapsed_ms, item_error=excluded.item_error
`

	if result.AnySucceeded() {
		for _, item := range result.Items {
			if !item.Success {
				continue
			}
			folderPath := model.NormalizePath(item.FolderName)
			id := model.DeriveRecordID(nasHost, folderPath, result.Timestamp)
			if _, err := tx.Exec(upsert,
				id, nasHost, folderPath, result.Timestamp, slug, name, string(result.Status), nullable(result.Error),
				1, item.NumDir, item.NumFile, item.TotalSizeBytes, item.ElapsedMs, nil,
			); err != nil {
				return &model.StorageError{Op: "AddResult.insert", Err: err}
			}
		}
	} else {
		id := model.DeriveRecordID(nasHost, model.SentinelFolderPath, result.Timestamp)
		var firstErr string
		if len(result.Items) > 0 {
			firstErr = result.Items[0].Error
		}
		if _, err := tx.Exec(upsert,
			id, nasHost, model.SentinelFolderPath, result.Timestamp, slug, name, string(result.Status), nullable(result.Error),
			0, 0, 0, 0, 0, nullable(firstErr),
		); err != nil {
			return &model.StorageError{Op: "AddResult.insertSentinel", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageError{Op: "AddResult.commit", Err: err}
	}
	metrics.RecordHistoryWrite(time.Since(writeStart))

	if err := s.pruneToMaxHistory(slug); err != nil {
		return err
	}

	var rows int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scan_history`).Scan(&rows); err == nil {
		metrics.UpdateHistoryRows(float64(rows))
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// pruneToMaxHistory deletes rows for slug belonging to timestamps older
// than the most recent maxHistory distinct timestamps.
func (s *Store) pruneToMaxHistory(slug string) error {
	const del = `
DELETE FROM scan_history
WHERE slug = ? AND timestamp NOT IN (
	SELECT timestamp FROM scan_history
	WHERE slug = ?
	GROUP BY timestamp
	ORDER BY timestamp DESC
	LIMIT ?
)`
	if _, err := s.db.Exec(del, slug, slug, s.maxHistory); err != nil {
		return &model.StorageError{Op: "pruneToMaxHistory", Err: err}
	}
	return nil
}

type row struct {
	ID             string
	NasHost        string
	FolderPath     string
	Timestamp      time.Time
	Slug           string
	Name           string
	Status         string
	ScanError      sql.NullString
	Success        bool
	NumDir         int64
	NumFile        int64
	TotalSizeBytes int64
	ElapsedMs      int64
	ItemError      sql.NullString
}

const selectColumns = `id, nas_host, folder_path, timestamp, slug, name, status, scan_error, success, num_dir, num_file, total_size_bytes, elapsed_ms, item_error`

func scanRow(scanner interface {
	Scan(dest ...interface{}) error
}) (row, error) {
	var r row
	err := scanner.Scan(&r.ID, &r.NasHost, &r.FolderPath, &r.Timestamp, &r.Slug, &r.Name, &r.Status,
		&r.ScanError, &r.Success, &r.NumDir, &r.NumFile, &r.TotalSizeBytes, &r.ElapsedMs, &r.ItemError)
	return r, err
}

func rowsToResult(rows []row) *model.ScanResult {
	if len(rows) == 0 {
		return nil
	}
	result := &model.ScanResult{
		Slug:      rows[0].Slug,
		Name:      rows[0].Name,
		Timestamp: rows[0].Timestamp,
		Status:    model.ScanStatus(rows[0].Status),
		Error:     rows[0].ScanError.String,
	}
	for _, r := range rows {
		if r.FolderPath == model.SentinelFolderPath {
			continue
		}
		result.Items = append(result.Items, model.ScanResultItem{
			FolderName:     r.FolderPath,
			Success:        r.Success,
			NumDir:         r.NumDir,
			NumFile:        r.NumFile,
			TotalSizeBytes: r.TotalSizeBytes,
			ElapsedMs:      r.ElapsedMs,
			Error:          r.ItemError.String,
		})
	}
	return result
}

// GetLatestResult assembles a ScanResult from the newest timestamp's rows
// for slug, or nil if no history exists.
func (s *Store) GetLatestResult(slug string) (*model.ScanResult, error) {
	query := fmt.Sprintf(`
SELECT %s FROM scan_history
WHERE slug = ? AND timestamp = (SELECT MAX(timestamp) FROM scan_history WHERE slug = ?)
ORDER BY folder_path`, selectColumns)
	return s.queryOneTimestamp(query, slug, slug)
}

// GetLatestCompletedResult returns the newest timestamp whose status is
// completed and whose items include at least one success with nonzero
// size; used by the ProgressOracle as a baseline.
func (s *Store) GetLatestCompletedResult(slug string) (*model.ScanResult, error) {
	query := fmt.Sprintf(`
SELECT %s FROM scan_history
WHERE slug = ? AND status = 'completed' AND timestamp IN (
	SELECT timestamp FROM scan_history
	WHERE slug = ? AND status = 'completed' AND success = 1 AND total_size_bytes > 0
	ORDER BY timestamp DESC LIMIT 1
)
ORDER BY folder_path`, selectColumns)
	return s.queryOneTimestamp(query, slug, slug)
}

func (s *Store) queryOneTimestamp(query string, args ...interface{}) (*model.ScanResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "scan", Err: err}
		}
		out = append(out, r)
	}
	return rowsToResult(out), rows.Err()
}

// GetAllResults returns every ScanResult recorded for slug, newest first.
func (s *Store) GetAllResults(slug string) ([]model.ScanResult, error) {
	return s.queryGrouped(fmt.Sprintf(`SELECT %s FROM scan_history WHERE slug = ? ORDER BY timestamp DESC, folder_path`, selectColumns), slug)
}

// GetResultsSince returns every ScanResult for slug at or after ts.
func (s *Store) GetResultsSince(slug string, ts time.Time) ([]model.ScanResult, error) {
	return s.queryGrouped(fmt.Sprintf(`SELECT %s FROM scan_history WHERE slug = ? AND timestamp >= ? ORDER BY timestamp DESC, folder_path`, selectColumns), slug, ts)
}

func (s *Store) queryGrouped(query string, args ...interface{}) ([]model.ScanResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var all []row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "scan", Err: err}
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageError{Op: "rows", Err: err}
	}

	var out []model.ScanResult
	var group []row
	for _, r := range all {
		if len(group) > 0 && !group[0].Timestamp.Equal(r.Timestamp) {
			out = append(out, *rowsToResult(group))
			group = nil
		}
		group = append(group, r)
	}
	if len(group) > 0 {
		out = append(out, *rowsToResult(group))
	}
	return out, nil
}

// Filters narrows destructive or enumerating queries to a subset of
// folders. Empty fields mean "unfiltered".
type Filters struct {
	NasHost    string
	FolderPath string
	Slug       string
}

func (f Filters) clauseAndArgs(startArgs ...interface{}) (string, []interface{}) {
	var clauses []string
	args := append([]interface{}{}, startArgs...)
	if f.NasHost != "" {
		clauses = append(clauses, "nas_host = ?")
		args = append(args, f.NasHost)
	}
	if f.FolderPath != "" {
		clauses = append(clauses, "folder_path = ?")
		args = append(args, model.NormalizePath(f.FolderPath))
	}
	if f.Slug != "" {
		clauses = append(clauses, "slug = ?")
		args = append(args, f.Slug)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

// FolderSummary is one distinct (nasHost, folderPath) pair known to the
// store.
type FolderSummary struct {
	NasHost    string
	FolderPath string
}

// GetAllFolders returns the distinct (nasHost, folderPath) pairs matching
// filters, excluding sentinel rows.
func (s *Store) GetAllFolders(filters Filters) ([]FolderSummary, error) {
	clause, args := filters.clauseAndArgs()
	query := `SELECT DISTINCT nas_host, folder_path FROM scan_history WHERE folder_path != ?` + clause + ` ORDER BY nas_host, folder_path`
	args = append([]interface{}{model.SentinelFolderPath}, args...)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &model.StorageError{Op: "GetAllFolders", Err: err}
	}
	defer rows.Close()

	var out []FolderSummary
	for rows.Next() {
		var fs FolderSummary
		if err := rows.Scan(&fs.NasHost, &fs.FolderPath); err != nil {
			return nil, &model.StorageError{Op: "GetAllFolders.scan", Err: err}
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// CleanupOldResults deletes rows older than now-days, optionally filtered,
// and returns the affected row count. dryRun=true counts without deleting.
// After a real delete, the store is compacted.
func (s *Store) CleanupOldResults(days int, filters Filters, dryRun bool) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	clause, args := filters.clauseAndArgs(cutoff)
	where := "timestamp < ?" + clause

	if dryRun {
		row := s.db.QueryRow(`SELECT COUNT(*) FROM scan_history WHERE `+where, args...)
		var count int64
		if err := row.Scan(&count); err != nil {
			return 0, &model.StorageError{Op: "CleanupOldResults.count", Err: err}
		}
		return count, nil
	}

	res, err := s.db.Exec(`DELETE FROM scan_history WHERE `+where, args...)
	if err != nil {
		return 0, &model.StorageError{Op: "CleanupOldResults.delete", Err: err}
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			return affected, &model.StorageError{Op: "CleanupOldResults.vacuum", Err: err}
		}
	}
	return affected, nil
}

// DeleteFolderResults deletes every row matching filters and returns the
// affected row count.
func (s *Store) DeleteFolderResults(filters Filters) (int64, error) {
	clause, args := filters.clauseAndArgs()
	where := "1=1" + clause
	res, err := s.db.Exec(`DELETE FROM scan_history WHERE `+where, args...)
	if err != nil {
		return 0, &model.StorageError{Op: "DeleteFolderResults", Err: err}
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ClearResults deletes all history for one slug, or every row if slug is
// empty, and returns the affected row count.
func (s *Store) ClearResults(slug string) (int64, error) {
	var res sql.Result
	var err error
	if slug == "" {
		res, err = s.db.Exec(`DELETE FROM scan_history`)
	} else {
		res, err = s.db.Exec(`DELETE FROM scan_history WHERE slug = ?`, slug)
	}
	if err != nil {
		return 0, &model.StorageError{Op: "ClearResults", Err: err}
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// DeleteAllResults deletes every row in the store and returns the affected
// row count.
func (s *Store) DeleteAllResults() (int64, error) {
	return s.ClearResults("")
}

// StorageStats summarizes the store for the control surface.
type StorageStats struct {
	TotalRows    int64
	DistinctSlug int64
	OldestRecord *time.Time
	NewestRecord *time.Time
}

// GetStorageStats reports row counts and the time range covered.
func (s *Store) GetStorageStats() (StorageStats, error) {
	var stats StorageStats
	row := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT slug) FROM scan_history`)
	if err := row.Scan(&stats.TotalRows, &stats.DistinctSlug); err != nil {
		return stats, &model.StorageError{Op: "GetStorageStats", Err: err}
	}

	// MIN/MAX would come back as plain text; selecting the column itself keeps
	// its DATETIME type so it scans into a time value.
	var oldest, newest sql.NullTime
	err := s.db.QueryRow(`SELECT timestamp FROM scan_history ORDER BY timestamp ASC LIMIT 1`).Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, &model.StorageError{Op: "GetStorageStats.range", Err: err}
	}
	err = s.db.QueryRow(`SELECT timestamp FROM scan_history ORDER BY timestamp DESC LIMIT 1`).Scan(&newest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, &model.StorageError{Op: "GetStorageStats.range", Err: err}
	}
	if oldest.Valid {
		stats.OldestRecord = &oldest.Time
	}
	if newest.Valid {
		stats.NewestRecord = &newest.Time
	}
	return stats, nil
}
