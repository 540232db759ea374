// Package pgdoc implements the document store on PostgreSQL: one JSONB row
// per document, serializable transactions with retry, and single-statement
// batches. Collections are plain name prefixes, not tables.
package pgdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mbalire/internhub/storage/document"
)

var NowFunc = time.Now // mockable

const maxTxAttempts = 5

type Store struct {
	db *sqlx.DB
}

var _ document.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, col, id string) (document.Document, error) {
	return getDoc(ctx, s.db, col, id)
}

func (s *Store) Query(ctx context.Context, col string, q document.Query) ([]document.Document, error) {
	return queryDocs(ctx, s.db, col, q)
}

func (s *Store) Create(ctx context.Context, col, id string, fields document.Fields) (string, error) {
	return createDoc(ctx, s.db, col, id, fields)
}

func (s *Store) Update(ctx context.Context, col, id string, fields document.Fields) error {
	return updateDoc(ctx, s.db, col, id, fields)
}

func (s *Store) Delete(ctx context.Context, col, id string) error {
	return deleteDoc(ctx, s.db, col, id)
}

// RunTransaction runs fn in a SERIALIZABLE transaction, retrying on
// serialization failure. Serializable isolation is what extends conflict
// detection to query-based reads (a concurrent insert matching a query run
// inside fn aborts the transaction).
func (s *Store) RunTransaction(ctx context.Context, fn func(tx document.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		txx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return errors.Wrap(err, "beginning transaction")
		}

		err = fn(&tx{ctx: ctx, q: txx})
		if err != nil {
			_ = txx.Rollback()
			if isSerializationFailure(err) {
				continue
			}
			return err
		}
		if err = txx.Commit(); err != nil {
			if isSerializationFailure(err) {
				continue
			}
			return errors.Wrap(err, "committing transaction")
		}
		return nil
	}
	return document.ErrConflict
}

func (s *Store) BatchWrite(ctx context.Context, ops []document.WriteOp) error {
	if len(ops) > document.MaxBatchSize {
		return document.ErrBatchTooLarge
	}
	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning batch")
	}
	for _, op := range ops {
		switch op.Kind {
		case document.OpCreate:
			_, err = createDoc(ctx, txx, op.Collection, op.ID, op.Fields)
		case document.OpUpdate:
			err = updateDoc(ctx, txx, op.Collection, op.ID, op.Fields)
		case document.OpDelete:
			err = deleteDoc(ctx, txx, op.Collection, op.ID)
		}
		if err != nil {
			_ = txx.Rollback()
			return err
		}
	}
	return errors.Wrap(txx.Commit(), "committing batch")
}

type tx struct {
	ctx context.Context
	q   sqlx.ExtContext
}

var _ document.Tx = (*tx)(nil)

func (t *tx) Get(col, id string) (document.Document, error) {
	return getDoc(t.ctx, t.q, col, id)
}

func (t *tx) Query(col string, q document.Query) ([]document.Document, error) {
	return queryDocs(t.ctx, t.q, col, q)
}

func (t *tx) Create(col, id string, fields document.Fields) (string, error) {
	return createDoc(t.ctx, t.q, col, id, fields)
}

func (t *tx) Update(col, id string, fields document.Fields) error {
	return updateDoc(t.ctx, t.q, col, id, fields)
}

func (t *tx) Delete(col, id string) error {
	return deleteDoc(t.ctx, t.q, col, id)
}

// shared statement helpers

func getDoc(ctx context.Context, q sqlx.ExtContext, col, id string) (document.Document, error) {
	var raw []byte
	err := q.QueryRowxContext(ctx, "SELECT doc FROM documents WHERE collection = $1 AND id = $2", col, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, errors.Wrap(err, "getting document")
	}
	fields, err := unmarshalFields(raw)
	if err != nil {
		return document.Document{}, err
	}
	return document.Document{ID: id, Fields: fields}, nil
}

func queryDocs(ctx context.Context, q sqlx.ExtContext, col string, dq document.Query) ([]document.Document, error) {
	sb := new(strings.Builder)
	sb.WriteString("SELECT id, doc FROM documents WHERE collection = $1")
	args := []interface{}{col}

	for _, f := range dq.Filters {
		args = append(args, f.Value)
		if f.Prefix {
			// avoids LIKE-pattern escaping
			fmt.Fprintf(sb, " AND left(doc->>'%s', length($%d)) = $%d", f.Field, len(args), len(args))
		} else {
			fmt.Fprintf(sb, " AND doc->>'%s' = $%d", f.Field, len(args))
		}
	}
	if dq.OrderBy != "" {
		direction := "ASC"
		if dq.Descending {
			direction = "DESC"
		}
		fmt.Fprintf(sb, " ORDER BY doc->>'%s' %s NULLS LAST", dq.OrderBy, direction)
	} else {
		sb.WriteString(" ORDER BY id")
	}
	if dq.Limit > 0 {
		args = append(args, dq.Limit)
		fmt.Fprintf(sb, " LIMIT $%d", len(args))
	}

	rows, err := q.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	defer func() { _ = rows.Close() }()

	var docs []document.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err = rows.Scan(&id, &raw); err != nil {
			return nil, errors.Wrap(err, "scanning document")
		}
		fields, err := unmarshalFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, document.Document{ID: id, Fields: fields})
	}
	return docs, errors.Wrap(rows.Err(), "querying documents")
}

func createDoc(ctx context.Context, q sqlx.ExtContext, col, id string, fields document.Fields) (string, error) {
	if id == "" {
		id = uuid.New().String()
	}
	raw, _, err := marshalFields(fields)
	if err != nil {
		return "", err
	}
	_, err = q.ExecContext(ctx, "INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)", col, id, raw)
	if isUniqueViolation(err) {
		return "", document.ErrExists
	}
	if err != nil {
		return "", errors.Wrap(err, "creating document")
	}
	return id, nil
}

func updateDoc(ctx context.Context, q sqlx.ExtContext, col, id string, fields document.Fields) error {
	raw, deleted, err := marshalFields(fields)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		"UPDATE documents SET doc = (doc - $3::text[]) || $4::jsonb, updated_at = now() WHERE collection = $1 AND id = $2",
		col, id, pq.Array(deleted), raw,
	)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return document.ErrNotFound
	}
	return nil
}

func deleteDoc(ctx context.Context, q sqlx.ExtContext, col, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", col, id)
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return document.ErrNotFound
	}
	return nil
}

// marshalFields resolves the write sentinels and encodes the merge set as
// JSON, returning deleted field names separately.
func marshalFields(fields document.Fields) ([]byte, []string, error) {
	now := NowFunc().UTC()
	merged := make(map[string]interface{}, len(fields))
	deleted := make([]string, 0)
	for k, v := range fields {
		if v == document.DeleteField {
			deleted = append(deleted, k)
			continue
		}
		if v == document.ServerTimestamp {
			v = now
		}
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoding document")
	}
	return raw, deleted, nil
}

func unmarshalFields(raw []byte) (document.Fields, error) {
	var fields document.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return fields, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure & deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
