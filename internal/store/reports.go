package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shadowscan/shadowscan/internal/logging"
)

// ReportRecord is the persisted unit returned to clients: the canonical
// join point between a scan and its artifacts. FilePaths maps artifact
// role (html, xml, json, pdf, markdown, web_html) to a root-relative file
// path, plus a parallel "<role>_id" key holding the content-store
// identifier; callers may resolve through either.
type ReportRecord struct {
	ReportID     string            `json:"report_id"`
	ScanID       string            `json:"scan_id"`
	TargetURL    string            `json:"target_url"`
	ScanType     string            `json:"scan_type"`
	ReportType   string            `json:"report_type"`
	ReportFormat string            `json:"report_format"`
	SessionID    string            `json:"session_id,omitempty"`
	CreatedAt    time.Time         `json:"timestamp"`
	FilePaths    map[string]string `json:"file_paths"`
}

var contentTypes = map[string]string{
	"html":     "text/html",
	"web_html": "text/html",
	"pdf":      "application/pdf",
	"xml":      "application/xml",
	"json":     "application/json",
	"markdown": "text/markdown",
}

func contentTypeFor(role string) string {
	if ct, ok := contentTypes[role]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SaveReport persists one completed pipeline run: every existing artifact
// file is copied into the blob store and the immutable report record is
// written. A path that no longer exists is skipped with a warning; an
// artifact whose content cannot be stored keeps its filesystem path entry
// so same-host access still works.
func (s *Store) SaveReport(ctx context.Context, scanID, targetURL, scanType, reportType, reportFormat, sessionID string, paths map[string]string) (*ReportRecord, error) {
	now := time.Now().UTC()
	reportID := fmt.Sprintf("report_%s_%s", now.Format("20060102150405"), uuid.New().String()[:8])

	rec := &ReportRecord{
		ReportID:     reportID,
		ScanID:       scanID,
		TargetURL:    targetURL,
		ScanType:     scanType,
		ReportType:   reportType,
		ReportFormat: reportFormat,
		SessionID:    sessionID,
		CreatedAt:    now,
		FilePaths:    map[string]string{},
	}

	meta := Metadata{
		ReportID:   reportID,
		TargetURL:  targetURL,
		ScanType:   scanType,
		ReportType: reportType,
		SessionID:  sessionID,
	}

	cwd, _ := os.Getwd()
	for role, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping missing artifact file",
				logging.Field{Key: "role", Value: role},
				logging.Field{Key: "path", Value: path},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}

		rec.FilePaths[role] = relativeTo(cwd, path)

		artifactID, err := s.Put(ctx, data, filepath.Base(path), contentTypeFor(role), meta)
		if err != nil {
			s.logger.Warn("storing artifact content failed, keeping path reference only",
				logging.Field{Key: "role", Value: role},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		rec.FilePaths[role+"_id"] = artifactID
	}

	pathsJSON, err := json.Marshal(rec.FilePaths)
	if err != nil {
		return nil, fmt.Errorf("encoding file paths: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (report_id, scan_id, target_url, scan_type, report_type,
			report_format, session_id, created_at, file_paths)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ReportID, rec.ScanID, rec.TargetURL, rec.ScanType, rec.ReportType,
		rec.ReportFormat, rec.SessionID, rec.CreatedAt, string(pathsJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting report record: %w", err)
	}

	if sessionID != "" {
		if err := s.TouchSession(ctx, sessionID); err != nil {
			s.logger.Warn("updating session activity",
				logging.Field{Key: "session_id", Value: sessionID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	s.logger.Info("report record saved",
		logging.Field{Key: "report_id", Value: rec.ReportID},
		logging.Field{Key: "roles", Value: len(rec.FilePaths)})
	return rec, nil
}

// relativeTo converts an absolute path to a cwd-relative one for storage;
// paths outside the tree stay absolute.
func relativeTo(base, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return path
	}
	return rel
}

// GetReport loads a report record by id.
func (s *Store) GetReport(ctx context.Context, reportID string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, scan_id, target_url, scan_type, report_type,
			report_format, session_id, created_at, file_paths
		FROM reports WHERE report_id = ?`, reportID)
	return scanReportRow(row)
}

// GetReportByScan returns the report record for a scan id, if any.
func (s *Store) GetReportByScan(ctx context.Context, scanID string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, scan_id, target_url, scan_type, report_type,
			report_format, session_id, created_at, file_paths
		FROM reports WHERE scan_id = ? ORDER BY created_at DESC LIMIT 1`, scanID)
	return scanReportRow(row)
}

func scanReportRow(row *sql.Row) (*ReportRecord, error) {
	var rec ReportRecord
	var pathsJSON string
	err := row.Scan(&rec.ReportID, &rec.ScanID, &rec.TargetURL, &rec.ScanType,
		&rec.ReportType, &rec.ReportFormat, &rec.SessionID, &rec.CreatedAt, &pathsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading report record: %w", err)
	}
	if err := json.Unmarshal([]byte(pathsJSON), &rec.FilePaths); err != nil {
		return nil, fmt.Errorf("decoding file paths: %w", err)
	}
	return &rec, nil
}

// ReadReportArtifact resolves one artifact role of a report. The
// filesystem path is tried first; when it is stale the content-store id
// is the fallback.
func (s *Store) ReadReportArtifact(ctx context.Context, reportID, role string) ([]byte, string, string, error) {
	rec, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, "", "", err
	}

	if path, ok := rec.FilePaths[role]; ok && path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return data, filepath.Base(path), contentTypeFor(role), nil
		}
	}
	if id, ok := rec.FilePaths[role+"_id"]; ok && id != "" {
		return s.Get(ctx, id)
	}
	return nil, "", "", fmt.Errorf("%w: report %s has no %s artifact", ErrArtifactNotFound, reportID, role)
}
