package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Manifest keeps every Record in memory, in write order.
type Manifest struct {
	mu      sync.Mutex
	records []Record
}

// RecordPage appends rec.
func (m *Manifest) RecordPage(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the recorded pages.
func (m *Manifest) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Recorders fans one Record out to several Recorders.
// Every recorder is called; their errors are joined.
type Recorders []Recorder

// RecordPage calls RecordPage on every non-nil recorder.
func (rs Recorders) RecordPage(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.RecordPage(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
