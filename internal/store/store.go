// Package store is the durable artifact layer: scan deliverables live in a
// content-addressed blob directory, and SQLite rows index them by artifact
// id, report, scan and session. Lookups go through these indexes, never
// through directory walks.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shadowscan/shadowscan/internal/logging"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrReportNotFound   = errors.New("report not found")
)

// Metadata is the descriptive record attached to every stored artifact.
// ReportID, TargetURL, ScanType and ReportType are always set by the
// pipeline; SessionID when the caller has one.
type Metadata struct {
	ReportID   string `json:"report_id"`
	TargetURL  string `json:"target_url"`
	ScanType   string `json:"scan_type"`
	ReportType string `json:"report_type"`
	SessionID  string `json:"session_id,omitempty"`
}

// ArtifactInfo describes one stored artifact without its content.
type ArtifactInfo struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Metadata    Metadata  `json:"metadata"`
}

// Store combines the SQLite index with the blob directory.
type Store struct {
	db     *sql.DB
	blobs  *blobStore
	logger logging.Logger
}

// New opens the store rooted at rootDir, applying the schema and creating
// the blob directory. db should be the SQLite database at
// rootDir/shadowscan.db.
func New(db *sql.DB, rootDir string, logger logging.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	rootDir = filepath.Clean(rootDir)
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure rootDir %s: %w", rootDir, err)
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	blobs, err := newBlobStore(filepath.Join(rootDir, "blobs"))
	if err != nil {
		return nil, err
	}

	return &Store{db: db, blobs: blobs, logger: logger}, nil
}

// Put stores one artifact and returns its generated identifier. Identity
// is the generated id, not the filename: the same filename may recur
// across reports without collision, and identical content is deduplicated
// in the blob layer.
func (s *Store) Put(ctx context.Context, data []byte, filename, contentType string, meta Metadata) (string, error) {
	blobID, err := s.blobs.put(data)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, blob_id, filename, content_type, size, created_at,
			report_id, target_url, scan_type, report_type, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, blobID, filename, contentType, int64(len(data)), time.Now().UTC(),
		meta.ReportID, meta.TargetURL, meta.ScanType, meta.ReportType, meta.SessionID)
	if err != nil {
		return "", fmt.Errorf("indexing artifact: %w", err)
	}
	return id, nil
}

// Get returns an artifact's content, filename and content type.
func (s *Store) Get(ctx context.Context, id string) ([]byte, string, string, error) {
	var blobID, filename, contentType string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob_id, filename, content_type FROM artifacts WHERE id = ?`, id).
		Scan(&blobID, &filename, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", "", fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("looking up artifact: %w", err)
	}

	data, err := s.blobs.get(blobID)
	if err != nil {
		return nil, "", "", err
	}
	return data, filename, contentType, nil
}

// Exists reports whether an artifact id resolves to retrievable content.
func (s *Store) Exists(ctx context.Context, id string) bool {
	var blobID string
	err := s.db.QueryRowContext(ctx, `SELECT blob_id FROM artifacts WHERE id = ?`, id).Scan(&blobID)
	if err != nil {
		return false
	}
	return s.blobs.exists(blobID)
}

// metadataColumns restricts FindByMetadata to indexed keys.
var metadataColumns = map[string]string{
	"report_id":   "report_id",
	"target_url":  "target_url",
	"scan_type":   "scan_type",
	"report_type": "report_type",
	"session_id":  "session_id",
}

// FindByMetadata returns all artifacts whose metadata key equals value,
// newest first.
func (s *Store) FindByMetadata(ctx context.Context, key, value string) ([]ArtifactInfo, error) {
	col, ok := metadataColumns[key]
	if !ok {
		return nil, fmt.Errorf("unsupported metadata key %q", key)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, content_type, size, created_at,
			report_id, target_url, scan_type, report_type, session_id
		FROM artifacts WHERE `+col+` = ? ORDER BY created_at DESC`, value)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	return scanArtifactRows(rows)
}

func scanArtifactRows(rows *sql.Rows) ([]ArtifactInfo, error) {
	out := []ArtifactInfo{}
	for rows.Next() {
		var a ArtifactInfo
		if err := rows.Scan(&a.ID, &a.Filename, &a.ContentType, &a.Size, &a.CreatedAt,
			&a.Metadata.ReportID, &a.Metadata.TargetURL, &a.Metadata.ScanType,
			&a.Metadata.ReportType, &a.Metadata.SessionID); err != nil {
			return nil, fmt.Errorf("scanning artifact row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
