// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLSnapshotter backs Snapshotter with the same database/sql handle
// the audit and knowledge stores use, for deployments without an
// S3-compatible object store. Rows are keyed (incident_id, path).
type SQLSnapshotter struct {
	db         *sql.DB
	incidentID string
}

// NewSQLSnapshotter constructs a Snapshotter scoped to one incident's
// rows. Call Initialize once before use.
func NewSQLSnapshotter(db *sql.DB, incidentID string) *SQLSnapshotter {
	return &SQLSnapshotter{db: db, incidentID: incidentID}
}

// Initialize creates the snapshots table if it does not exist.
func (s *SQLSnapshotter) Initialize(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	incident_id TEXT NOT NULL,
	path        TEXT NOT NULL,
	content     BLOB NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (incident_id, path)
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("workspace: initialize snapshots schema: %w", err)
	}
	return nil
}

func (s *SQLSnapshotter) Put(ctx context.Context, path string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (incident_id, path, content, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(incident_id, path) DO UPDATE SET
	content = excluded.content,
	updated_at = excluded.updated_at`,
		s.incidentID, path, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("workspace: snapshot put %q: %w", path, err)
	}
	return nil
}

func (s *SQLSnapshotter) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `
SELECT content FROM snapshots WHERE incident_id = ? AND path = ?`,
		s.incidentID, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("workspace: snapshot get %q: %w", path, err)
	}
	return content, true, nil
}
