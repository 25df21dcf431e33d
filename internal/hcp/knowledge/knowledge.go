// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package knowledge implements the KnowledgeBase collaborator: an
// append-only store of prior fixes keyed by error signature.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// KnowledgeBase maps stable error signatures to previously successful
// fixes and their empirical success rate.
type KnowledgeBase interface {
	// Lookup returns the entry for sig, or nil if none exists.
	Lookup(ctx context.Context, sig string) (*types.KBEntry, error)

	// Record creates or updates an entry: on success, counters
	// increment and confidence is the average of old and new; on
	// failure, only counters and the timestamp move.
	Record(ctx context.Context, sig string, kind types.IncidentKind, context_ string, successfulFix string, wasSuccessful bool) error

	// UpdateCounters adjusts timesEncountered/timesFixed for sig
	// without changing the stored fix or context.
	UpdateCounters(ctx context.Context, sig string, wasSuccessful bool) error
}

// Store is a database/sql-backed KnowledgeBase, against either the
// sqlite3 driver (development) or pgx's stdlib driver (production).
type Store struct {
	db *sql.DB
	pg bool
}

// Option configures a Store at construction.
type Option func(*Store)

// WithPostgresPlaceholders rewrites '?' placeholders to the $N form
// the pgx driver expects. Required when the Store is backed by pgx.
func WithPostgresPlaceholders() Option {
	return func(s *Store) { s.pg = true }
}

// New wraps an already-open *sql.DB. Call Initialize once before use.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) q(query string) string {
	if !s.pg {
		return query
	}
	return renumberPlaceholders(query)
}

func renumberPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Initialize creates the knowledge_base table if it does not exist.
func (s *Store) Initialize(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS knowledge_base (
	error_signature   TEXT PRIMARY KEY,
	error_kind        TEXT NOT NULL,
	context           TEXT NOT NULL DEFAULT '',
	successful_fix    TEXT NOT NULL DEFAULT '',
	times_encountered INTEGER NOT NULL DEFAULT 0,
	times_fixed       INTEGER NOT NULL DEFAULT 0,
	last_encountered  TIMESTAMP NOT NULL,
	confidence        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_knowledge_base_kind ON knowledge_base(error_kind);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("knowledge: initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, sig string) (*types.KBEntry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
SELECT error_signature, error_kind, context, successful_fix, times_encountered, times_fixed, last_encountered, confidence
FROM knowledge_base WHERE error_signature = ?`), sig)

	var entry types.KBEntry
	var kind string
	var last time.Time
	err := row.Scan(&entry.ErrorSignature, &kind, &entry.Context, &entry.SuccessfulFix,
		&entry.TimesEncountered, &entry.TimesFixed, &last, &entry.Confidence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: lookup %s: %w", sig, err)
	}
	entry.ErrorKind = types.IncidentKind(kind)
	entry.LastEncountered = last
	return &entry, nil
}

func (s *Store) Record(ctx context.Context, sig string, kind types.IncidentKind, contextStr string, successfulFix string, wasSuccessful bool) error {
	existing, err := s.Lookup(ctx, sig)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if existing == nil {
		if !wasSuccessful {
			// A new entry is created only on success.
			return nil
		}
		_, err := s.db.ExecContext(ctx, s.q(`
INSERT INTO knowledge_base (error_signature, error_kind, context, successful_fix, times_encountered, times_fixed, last_encountered, confidence)
VALUES (?, ?, ?, ?, 1, 1, ?, 100)`), sig, string(kind), contextStr, successfulFix, now)
		if err != nil {
			return fmt.Errorf("knowledge: insert %s: %w", sig, err)
		}
		return nil
	}

	timesEncountered := existing.TimesEncountered + 1
	timesFixed := existing.TimesFixed
	confidence := existing.Confidence
	fix := existing.SuccessfulFix

	if wasSuccessful {
		timesFixed++
		newConfidence := 100
		if timesEncountered > 0 {
			newConfidence = int(100 * float64(timesFixed) / float64(timesEncountered))
		}
		confidence = (existing.Confidence + newConfidence) / 2
		if successfulFix != "" {
			fix = successfulFix
		}
	}

	_, err = s.db.ExecContext(ctx, s.q(`
UPDATE knowledge_base
SET times_encountered = ?, times_fixed = ?, successful_fix = ?, last_encountered = ?, confidence = ?
WHERE error_signature = ?`), timesEncountered, timesFixed, fix, now, confidence, sig)
	if err != nil {
		return fmt.Errorf("knowledge: update %s: %w", sig, err)
	}
	return nil
}

func (s *Store) UpdateCounters(ctx context.Context, sig string, wasSuccessful bool) error {
	existing, err := s.Lookup(ctx, sig)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return s.Record(ctx, sig, existing.ErrorKind, existing.Context, "", wasSuccessful)
}
