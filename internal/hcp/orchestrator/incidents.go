// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"sync"

	"github.com/traylinx/healctl/internal/hcp/types"
)

// IncidentRepository reads and persists Incident rows. Incidents are
// created by an external detector; the orchestrator only mutates
// status, attemptCount, and resolution fields on an existing row.
type IncidentRepository interface {
	Get(ctx context.Context, id string) (*types.Incident, error)
	Save(ctx context.Context, inc *types.Incident) error
}

// MemoryIncidentRepository is a process-memory IncidentRepository. It
// is enough for a detector that hands incidents directly to
// OnIncidentDetected rather than through a shared database, and for
// tests.
type MemoryIncidentRepository struct {
	mu   sync.Mutex
	rows map[string]*types.Incident
}

// NewMemoryIncidentRepository creates an empty repository.
func NewMemoryIncidentRepository() *MemoryIncidentRepository {
	return &MemoryIncidentRepository{rows: make(map[string]*types.Incident)}
}

func (m *MemoryIncidentRepository) Get(ctx context.Context, id string) (*types.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *inc
	return &cp, nil
}

func (m *MemoryIncidentRepository) Save(ctx context.Context, inc *types.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inc
	m.rows[inc.ID] = &cp
	return nil
}
