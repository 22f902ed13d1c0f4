package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"mailcheck/internal"
)

var ErrNotFound = errors.New("not found")

// KeyPollerLastCycle holds the RFC 3339 time of the last finished poller cycle.
const KeyPollerLastCycle = "poller.last_cycle"

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS uploads (
  id TEXT PRIMARY KEY,
  userId TEXT NOT NULL,
  unmatched INTEGER NOT NULL DEFAULT 0,
  orphanedJson TEXT NOT NULL DEFAULT '[]',
  createdAt TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_uploads_user ON uploads(userId, createdAt);

CREATE TABLE IF NOT EXISTS upload_files (
  uploadId TEXT NOT NULL,
  position INTEGER NOT NULL,
  fileName TEXT NOT NULL,
  size INTEGER NOT NULL DEFAULT 0,
  taskId TEXT,
  emailColumn TEXT NOT NULL DEFAULT '',
  hasHeader INTEGER NOT NULL DEFAULT 1,
  PRIMARY KEY(uploadId, position),
  FOREIGN KEY(uploadId) REFERENCES uploads(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_upload_files_task ON upload_files(taskId);

CREATE TABLE IF NOT EXISTS task_snapshots (
  taskId TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  total INTEGER NOT NULL,
  valid INTEGER NOT NULL,
  invalid INTEGER NOT NULL,
  catchAll INTEGER NOT NULL,
  fetchedAt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (d *DB) SaveUpload(ctx context.Context, batch internal.UploadBatch) error {
	orphanedJSON, err := json.Marshal(batch.Orphaned)
	if err != nil {
		return err
	}
	if batch.Orphaned == nil {
		orphanedJSON = []byte("[]")
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if batch.CreatedAt == "" {
		_, err = tx.ExecContext(ctx, `INSERT INTO uploads (id, userId, unmatched, orphanedJson) VALUES (?, ?, ?, ?)`,
			batch.ID, batch.UserID, batch.Unmatched, string(orphanedJSON))
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO uploads (id, userId, unmatched, orphanedJson, createdAt) VALUES (?, ?, ?, ?, ?)`,
			batch.ID, batch.UserID, batch.Unmatched, string(orphanedJSON), batch.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO upload_files (uploadId, position, fileName, size, taskId, emailColumn, hasHeader)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range batch.Files {
		if _, err := stmt.ExecContext(ctx, batch.ID, f.Position, f.FileName, f.Size, f.TaskID, f.EmailColumn, f.HasHeader); err != nil {
			return fmt.Errorf("insert upload file %s: %w", f.FileName, err)
		}
	}

	return tx.Commit()
}

func (d *DB) GetUpload(ctx context.Context, id string) (internal.UploadBatch, error) {
	var batch internal.UploadBatch
	var orphanedJSON string
	err := d.conn.QueryRowContext(ctx, `
SELECT id, userId, unmatched, orphanedJson, createdAt FROM uploads WHERE id = ?
`, id).Scan(&batch.ID, &batch.UserID, &batch.Unmatched, &orphanedJSON, &batch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.UploadBatch{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return internal.UploadBatch{}, err
	}
	_ = json.Unmarshal([]byte(orphanedJSON), &batch.Orphaned)

	files, err := d.uploadFiles(ctx, id)
	if err != nil {
		return internal.UploadBatch{}, err
	}
	batch.Files = files
	return batch, nil
}

func (d *DB) uploadFiles(ctx context.Context, uploadID string) ([]internal.BatchFile, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT position, fileName, size, taskId, emailColumn, hasHeader
FROM upload_files WHERE uploadId = ? ORDER BY position ASC
`, uploadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.BatchFile{}
	for rows.Next() {
		var f internal.BatchFile
		if err := rows.Scan(&f.Position, &f.FileName, &f.Size, &f.TaskID, &f.EmailColumn, &f.HasHeader); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListUploads returns the user's batches, newest first.
func (d *DB) ListUploads(ctx context.Context, userID string, limit int) ([]internal.UploadBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT id FROM uploads WHERE userId = ? ORDER BY createdAt DESC, rowid DESC LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]internal.UploadBatch, 0, len(ids))
	for _, id := range ids {
		batch, err := d.GetUpload(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
	}
	return out, nil
}

func (d *DB) UpsertTaskSnapshot(ctx context.Context, s internal.TaskSnapshot) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO task_snapshots (taskId, status, total, valid, invalid, catchAll, fetchedAt)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(taskId) DO UPDATE SET
  status=excluded.status,
  total=excluded.total,
  valid=excluded.valid,
  invalid=excluded.invalid,
  catchAll=excluded.catchAll,
  fetchedAt=excluded.fetchedAt
`, s.TaskID, string(s.Status), s.Total, s.Valid, s.Invalid, s.CatchAll, s.FetchedAt)
	return err
}

// ListPendingTaskIDs returns linked tasks that have never been observed in
// "download" state, least recently fetched first.
func (d *DB) ListPendingTaskIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT f.taskId
FROM upload_files f
LEFT JOIN task_snapshots s ON s.taskId = f.taskId
WHERE f.taskId IS NOT NULL AND f.taskId <> ''
  AND (s.status IS NULL OR s.status <> 'download')
GROUP BY f.taskId
ORDER BY MAX(COALESCE(s.fetchedAt, '')) ASC, f.taskId ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
