package store

import (
	"context"
	"fmt"
	"time"
)

// Session correlates multiple scan jobs and reports to one end user
// across requests.
type Session struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	ScanCount    int       `json:"scan_count"`
}

// GetOrCreateSession upserts a session row and refreshes its activity
// timestamp.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID, userAgent, ipAddress string) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_activity, user_agent, ip_address, scan_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(session_id) DO UPDATE SET last_activity = excluded.last_activity`,
		sessionID, now, now, userAgent, ipAddress)
	if err != nil {
		return nil, fmt.Errorf("upserting session: %w", err)
	}

	var sess Session
	err = s.db.QueryRowContext(ctx, `
		SELECT session_id, created_at, last_activity, user_agent, ip_address, scan_count
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &sess.CreatedAt, &sess.LastActivity,
			&sess.UserAgent, &sess.IPAddress, &sess.ScanCount)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &sess, nil
}

// TouchSession refreshes a session's last-activity timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	return err
}

// RecordSessionScan bumps the session's scan counter when a job is
// submitted on its behalf.
func (s *Store) RecordSessionScan(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET scan_count = scan_count + 1, last_activity = ?
		WHERE session_id = ?`, time.Now().UTC(), sessionID)
	return err
}

// ArtifactGroup is one bucket of a session's artifact listing: artifacts
// of one report, or, for strays without a report id, artifacts created in
// the same minute.
type ArtifactGroup struct {
	ReportID  string         `json:"report_id,omitempty"`
	Bucket    string         `json:"bucket,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Artifacts []ArtifactInfo `json:"artifacts"`
}

// ListSessionArtifacts returns a session's artifacts grouped by report,
// newest group first. A session with no artifacts yields an empty slice.
func (s *Store) ListSessionArtifacts(ctx context.Context, sessionID string) ([]ArtifactGroup, error) {
	artifacts, err := s.FindByMetadata(ctx, "session_id", sessionID)
	if err != nil {
		return nil, err
	}

	groups := []ArtifactGroup{}
	index := map[string]int{}
	for _, a := range artifacts {
		key := a.Metadata.ReportID
		bucket := ""
		if key == "" {
			// no report to join on; fall back to a creation-time bucket
			bucket = a.CreatedAt.Truncate(time.Minute).Format("2006-01-02T15:04")
			key = "bucket:" + bucket
		}

		i, ok := index[key]
		if !ok {
			groups = append(groups, ArtifactGroup{
				ReportID:  a.Metadata.ReportID,
				Bucket:    bucket,
				CreatedAt: a.CreatedAt,
			})
			i = len(groups) - 1
			index[key] = i
		}
		groups[i].Artifacts = append(groups[i].Artifacts, a)
	}
	return groups, nil
}
