/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package avroconverter

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// Store maps (subject, version) to schema definitions. Implementations are safe for concurrent use.
type Store interface {
	// RegisterOrResolve returns the reference of an equal definition already registered under the subject,
	// otherwise registers the definition as the next version of the subject
	RegisterOrResolve(ctx context.Context, subject, definition string) (Reference, error)

	// Lookup returns the definition registered under the reference subject and version
	Lookup(ctx context.Context, ref Reference) (string, error)

	// LookupID returns the schema registered under the store wide schema id
	LookupID(ctx context.Context, id int) (SchemaRecord, error)
}

type storedSchema struct {
	record     SchemaRecord
	normalized string
}

// MemoryStore is an in process Store. Versions start at 1 and increase monotonically per subject, schema ids
// are unique across subjects.
type MemoryStore struct {
	schemas map[string][]*storedSchema // subject/versions (index = version-1)
	idMap   map[int]*storedSchema
	lastID  int
	mu      *sync.RWMutex
	logger  log.Logger
	metrics *storeMetrics
}

// NewMemoryStore returns an empty in memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	options := newOptions(opts...)

	return &MemoryStore{
		schemas: make(map[string][]*storedSchema),
		idMap:   make(map[int]*storedSchema),
		mu:      new(sync.RWMutex),
		logger:  options.logger.NewLog(log.Prefixed(`avroconverter.store`)),
		metrics: newStoreMetrics(options.registerer),
	}
}

// RegisterOrResolve registers the definition under the subject. The write lock is held across the compare and
// the register so concurrent registrations of the same new definition yield a single version.
func (s *MemoryStore) RegisterOrResolve(_ context.Context, subject, definition string) (Reference, error) {
	if subject == `` {
		return Reference{}, &InvalidSchemaError{Subject: subject, Err: errors.New(`subject cannot be empty`)}
	}

	normalized, _, err := normalizeDefinition(definition)
	if err != nil {
		s.logger.Error(fmt.Sprintf(`subject [%s] rejected due to %s`, subject, err))
		return Reference{}, &InvalidSchemaError{Subject: subject, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stored := range s.schemas[subject] {
		if stored.normalized == normalized {
			s.metrics.registered(subject, false)
			return stored.record.Reference, nil
		}
	}

	s.lastID++
	stored := &storedSchema{
		record: SchemaRecord{
			Reference: Reference{
				Subject: subject,
				Version: len(s.schemas[subject]) + 1,
				Format:  FormatAvro,
				ID:      s.lastID,
			},
			Definition: definition,
		},
		normalized: normalized,
	}

	s.schemas[subject] = append(s.schemas[subject], stored)
	s.idMap[stored.record.Reference.ID] = stored
	s.metrics.registered(subject, true)

	s.logger.Info(fmt.Sprintf(`subject [%s][%s] registered with id [%d]`,
		subject, Version(stored.record.Reference.Version), stored.record.Reference.ID))

	return stored.record.Reference, nil
}

// Lookup returns the definition of the reference
func (s *MemoryStore) Lookup(ctx context.Context, ref Reference) (string, error) {
	rec, err := s.LookupRecord(ctx, ref)
	if err != nil {
		return ``, err
	}

	return rec.Definition, nil
}

// LookupRecord returns the schema record of the reference
func (s *MemoryStore) LookupRecord(_ context.Context, ref Reference) (SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.schemas[ref.Subject]
	if ref.Version < 1 || ref.Version > len(versions) {
		return SchemaRecord{}, &UnknownSchemaError{Reference: ref}
	}

	return versions[ref.Version-1].record, nil
}

// LookupID returns the schema registered under the id
func (s *MemoryStore) LookupID(_ context.Context, id int) (SchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.idMap[id]
	if !ok {
		return SchemaRecord{}, &UnknownSchemaError{Reference: Reference{ID: id}}
	}

	return stored.record, nil
}

// Subjects returns the registered subjects in lexical order
func (s *MemoryStore) Subjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make([]string, 0, len(s.schemas))
	for subject := range s.schemas {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	return subjects
}

// Versions returns the versions registered under the subject
func (s *MemoryStore) Versions(subject string) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make([]int, len(s.schemas[subject]))
	for i := range versions {
		versions[i] = i + 1
	}

	return versions
}

// Print logs a table of the registered schemas
func (s *MemoryStore) Print() {
	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`Schema Id`, `subject`, `version`, `format`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)

	for _, subject := range s.Subjects() {
		s.mu.RLock()
		for _, stored := range s.schemas[subject] {
			ref := stored.record.Reference
			table.Append([]string{
				fmt.Sprint(ref.ID),
				ref.Subject,
				fmt.Sprint(Version(ref.Version)),
				ref.Format.String(),
			})
		}
		s.mu.RUnlock()
	}

	table.Render()
	s.logger.Info(fmt.Sprintf("schemas\n%s", b.String()))
}
