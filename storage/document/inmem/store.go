// Package inmem is an in-memory document store used in DEV mode and tests.
// Transactions are optimistic: reads record document and collection versions
// and the transaction function is re-run whenever a commit-time check fails.
package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mbalire/internhub/storage/document"
)

var NowFunc = time.Now // mockable

const maxTxAttempts = 5

type (
	record struct {
		fields  document.Fields
		version int64
	}

	collection struct {
		records map[string]*record
		version int64 // bumped on any write; guards query-based reads
	}

	Store struct {
		mu          sync.RWMutex
		collections map[string]*collection
	}
)

var _ document.Store = (*Store)(nil)

func Open() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Reset drops all collections.
func (s *Store) Reset() {
	s.mu.Lock()
	s.collections = make(map[string]*collection)
	s.mu.Unlock()
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{records: make(map[string]*record)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Get(ctx context.Context, col, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(col, id)
}

func (s *Store) get(col, id string) (document.Document, error) {
	if c, ok := s.collections[col]; ok {
		if rec, ok := c.records[id]; ok {
			return document.Document{ID: id, Fields: rec.fields.Clone()}, nil
		}
	}
	return document.Document{}, document.ErrNotFound
}

func (s *Store) Query(ctx context.Context, col string, q document.Query) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(col, q), nil
}

func (s *Store) query(col string, q document.Query) []document.Document {
	var docs []document.Document
	if c, ok := s.collections[col]; ok {
		for id, rec := range c.records {
			if matches(rec.fields, q.Filters) {
				docs = append(docs, document.Document{ID: id, Fields: rec.fields.Clone()})
			}
		}
	}
	sortDocs(docs, q)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func matches(fields document.Fields, filters []document.Filter) bool {
	for _, f := range filters {
		val, ok := fields[f.Field].(string)
		if !ok {
			return false
		}
		if f.Prefix {
			if !strings.HasPrefix(val, f.Value) {
				return false
			}
		} else if val != f.Value {
			return false
		}
	}
	return true
}

func sortDocs(docs []document.Document, q document.Query) {
	less := func(i, j int) bool { return docs[i].ID < docs[j].ID } // stable order for tests
	if q.OrderBy != "" {
		less = func(i, j int) bool {
			ti, iok := docs[i].Fields.Time(q.OrderBy)
			tj, jok := docs[j].Fields.Time(q.OrderBy)
			if iok && jok {
				if q.Descending {
					return ti.After(tj)
				}
				return ti.Before(tj)
			}
			vi := docs[i].Fields.String(q.OrderBy)
			vj := docs[j].Fields.String(q.OrderBy)
			if q.Descending {
				return vi > vj
			}
			return vi < vj
		}
	}
	sort.SliceStable(docs, less)
}

func (s *Store) Create(ctx context.Context, col, id string, fields document.Fields) (string, error) {
	return s.applyCreate(col, id, fields, true)
}

func (s *Store) applyCreate(col, id string, fields document.Fields, lock bool) (string, error) {
	if lock {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if id == "" {
		id = uuid.New().String()
	}
	c := s.coll(col)
	if _, ok := c.records[id]; ok {
		return "", document.ErrExists
	}
	c.records[id] = &record{fields: resolveSentinels(fields.Clone()), version: 1}
	c.version++
	return id, nil
}

func (s *Store) Update(ctx context.Context, col, id string, fields document.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyUpdate(col, id, fields)
}

func (s *Store) applyUpdate(col, id string, fields document.Fields) error {
	c, ok := s.collections[col]
	if !ok {
		return document.ErrNotFound
	}
	rec, ok := c.records[id]
	if !ok {
		return document.ErrNotFound
	}
	rec.fields = merge(rec.fields, fields)
	rec.version++
	c.version++
	return nil
}

func (s *Store) Delete(ctx context.Context, col, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyDelete(col, id)
}

func (s *Store) applyDelete(col, id string) error {
	c, ok := s.collections[col]
	if !ok {
		return document.ErrNotFound
	}
	if _, ok = c.records[id]; !ok {
		return document.ErrNotFound
	}
	delete(c.records, id)
	c.version++
	return nil
}

// merge applies a field-level merge of changes into base, honouring the
// DeleteField and ServerTimestamp sentinels.
func merge(base, changes document.Fields) document.Fields {
	out := base.Clone()
	for k, v := range resolveSentinels(changes.Clone()) {
		if _, del := v.(deletedMarker); del {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

type deletedMarker struct{}

func resolveSentinels(fields document.Fields) document.Fields {
	now := NowFunc().UTC()
	for k, v := range fields {
		if v == document.ServerTimestamp {
			fields[k] = now
		} else if v == document.DeleteField {
			fields[k] = deletedMarker{}
		}
	}
	return fields
}

func (s *Store) BatchWrite(ctx context.Context, ops []document.WriteOp) error {
	if len(ops) > document.MaxBatchSize {
		return document.ErrBatchTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// all-or-nothing: check update/delete targets exist before applying
	for _, op := range ops {
		if op.Kind == document.OpCreate {
			continue
		}
		if c, ok := s.collections[op.Collection]; ok {
			if _, ok = c.records[op.ID]; ok {
				continue
			}
		}
		return errors.Wrapf(document.ErrNotFound, "%s/%s", op.Collection, op.ID)
	}
	for _, op := range ops {
		switch op.Kind {
		case document.OpCreate:
			if _, err := s.applyCreate(op.Collection, op.ID, op.Fields, false); err != nil {
				return err
			}
		case document.OpUpdate:
			if err := s.applyUpdate(op.Collection, op.ID, op.Fields); err != nil {
				return err
			}
		case document.OpDelete:
			if err := s.applyDelete(op.Collection, op.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx document.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		t := &tx{
			store:     s,
			docReads:  make(map[[2]string]int64),
			collReads: make(map[string]int64),
			staged:    make(map[string]map[string]document.Fields),
		}
		if err := fn(t); err != nil {
			return err
		}
		if s.commit(t) {
			return nil
		}
	}
	return document.ErrConflict
}

type tx struct {
	store     *Store
	docReads  map[[2]string]int64 // (collection, id) -> version at read time (0 = absent)
	collReads map[string]int64    // collection -> version at query time
	staged    map[string]map[string]document.Fields
	writes    []document.WriteOp
}

var _ document.Tx = (*tx)(nil)

func (t *tx) stagedDoc(col, id string) (document.Fields, bool) {
	if c, ok := t.staged[col]; ok {
		fields, ok := c[id]
		return fields, ok
	}
	return nil, false
}

func (t *tx) stage(col, id string, fields document.Fields) {
	if _, ok := t.staged[col]; !ok {
		t.staged[col] = make(map[string]document.Fields)
	}
	t.staged[col][id] = fields
}

func (t *tx) Get(col, id string) (document.Document, error) {
	// read-your-writes
	if fields, ok := t.stagedDoc(col, id); ok {
		if fields == nil {
			return document.Document{}, document.ErrNotFound
		}
		return document.Document{ID: id, Fields: fields.Clone()}, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	key := [2]string{col, id}
	doc, err := t.store.get(col, id)
	if err != nil {
		if _, seen := t.docReads[key]; !seen {
			t.docReads[key] = 0
		}
		return document.Document{}, err
	}
	// keep the version of the first read; a later re-read must not mask a
	// conflicting interleaved write
	if _, seen := t.docReads[key]; !seen {
		t.docReads[key] = t.store.collections[col].records[id].version
	}
	return doc, nil
}

func (t *tx) Query(col string, q document.Query) ([]document.Document, error) {
	t.store.mu.RLock()
	docs := t.store.query(col, q)
	if _, seen := t.collReads[col]; !seen {
		if c, ok := t.store.collections[col]; ok {
			t.collReads[col] = c.version
		} else {
			t.collReads[col] = 0
		}
	}
	t.store.mu.RUnlock()

	// overlay staged writes so the transaction sees its own effects
	if c, ok := t.staged[col]; ok {
		kept := docs[:0]
		for _, doc := range docs {
			if fields, staged := c[doc.ID]; staged {
				if fields == nil || !matches(fields, q.Filters) {
					continue
				}
				doc.Fields = fields.Clone()
			}
			kept = append(kept, doc)
		}
		docs = kept
		for id, fields := range c {
			if fields == nil {
				continue
			}
			if _, seen := find(docs, id); !seen && matches(fields, q.Filters) {
				docs = append(docs, document.Document{ID: id, Fields: fields.Clone()})
			}
		}
		sortDocs(docs, q)
		if q.Limit > 0 && len(docs) > q.Limit {
			docs = docs[:q.Limit]
		}
	}
	return docs, nil
}

func find(docs []document.Document, id string) (document.Document, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return document.Document{}, false
}

func (t *tx) Create(col, id string, fields document.Fields) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if staged, ok := t.stagedDoc(col, id); ok && staged != nil {
		return "", document.ErrExists
	}
	t.stage(col, id, resolveSentinels(fields.Clone()))
	t.writes = append(t.writes, document.CreateOp(col, id, fields))
	return id, nil
}

func (t *tx) Update(col, id string, fields document.Fields) error {
	current, err := t.Get(col, id)
	if err != nil {
		return err
	}
	t.stage(col, id, merge(current.Fields, fields))
	t.writes = append(t.writes, document.UpdateOp(col, id, fields))
	return nil
}

func (t *tx) Delete(col, id string) error {
	if _, err := t.Get(col, id); err != nil {
		return err
	}
	t.stage(col, id, nil)
	t.writes = append(t.writes, document.DeleteOp(col, id))
	return nil
}

// commit validates that nothing read by the transaction changed since it was
// read, then applies the buffered writes. Returns false to request a retry.
func (s *Store) commit(t *tx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range t.docReads {
		var current int64
		if c, ok := s.collections[key[0]]; ok {
			if rec, ok := c.records[key[1]]; ok {
				current = rec.version
			}
		}
		if current != version {
			return false
		}
	}
	for col, version := range t.collReads {
		var current int64
		if c, ok := s.collections[col]; ok {
			current = c.version
		}
		if current != version {
			return false
		}
	}

	for _, op := range t.writes {
		switch op.Kind {
		case document.OpCreate:
			_, _ = s.applyCreate(op.Collection, op.ID, op.Fields, false)
		case document.OpUpdate:
			_ = s.applyUpdate(op.Collection, op.ID, op.Fields)
		case document.OpDelete:
			_ = s.applyDelete(op.Collection, op.ID)
		}
	}
	return true
}
