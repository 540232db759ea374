package inmem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mbalire/internhub/storage/document"
)

func TestCreateGet(t *testing.T) {
	s := Open()
	ctx := context.Background()

	id, err := s.Create(ctx, "things", "", document.Fields{"name": "a"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("no id assigned")
	}

	doc, err := s.Get(ctx, "things", id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Fields.String("name") != "a" {
		t.Errorf("name = %q", doc.Fields.String("name"))
	}

	if _, err = s.Create(ctx, "things", id, document.Fields{}); errors.Cause(err) != document.ErrExists {
		t.Errorf("duplicate Create() error = %v, want ErrExists", err)
	}
	if _, err = s.Get(ctx, "things", "missing"); errors.Cause(err) != document.ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMergeAndSentinels(t *testing.T) {
	s := Open()
	ctx := context.Background()

	fixed := time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return fixed }
	defer func() { NowFunc = time.Now }()

	id, _ := s.Create(ctx, "things", "", document.Fields{"a": "1", "b": "2"})

	err := s.Update(ctx, "things", id, document.Fields{
		"b":       document.DeleteField,
		"c":       "3",
		"touched": document.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	doc, _ := s.Get(ctx, "things", id)
	if doc.Fields.String("a") != "1" {
		t.Error("merge dropped untouched field")
	}
	if doc.Fields.Has("b") {
		t.Error("DeleteField did not remove the field")
	}
	if doc.Fields.String("c") != "3" {
		t.Error("merge did not add new field")
	}
	if ts, ok := doc.Fields.Time("touched"); !ok || !ts.Equal(fixed) {
		t.Errorf("touched = %v, want %v", ts, fixed)
	}

	if err = s.Update(ctx, "things", "missing", document.Fields{}); errors.Cause(err) != document.ErrNotFound {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestQuery(t *testing.T) {
	s := Open()
	ctx := context.Background()

	for i, f := range []document.Fields{
		{"name": "alpha", "group": "x"},
		{"name": "beta", "group": "x"},
		{"name": "alphabet", "group": "y"},
	} {
		if _, err := s.Create(ctx, "things", fmt.Sprintf("t%d", i), f); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		q     document.Query
		want  int
		first string
	}{
		{name: "no filter", q: document.Query{}, want: 3},
		{name: "equality", q: document.Query{Filters: []document.Filter{document.Where("group", "x")}}, want: 2},
		{name: "prefix", q: document.Query{Filters: []document.Filter{document.WherePrefix("name", "alpha")}}, want: 2},
		{name: "both", q: document.Query{Filters: []document.Filter{document.Where("group", "x"), document.WherePrefix("name", "alpha")}}, want: 1},
		{name: "no match", q: document.Query{Filters: []document.Filter{document.Where("group", "z")}}, want: 0},
		{name: "order asc", q: document.Query{OrderBy: "name"}, want: 3, first: "alpha"},
		{name: "order desc", q: document.Query{OrderBy: "name", Descending: true}, want: 3, first: "beta"},
		{name: "limit", q: document.Query{OrderBy: "name", Limit: 2}, want: 2, first: "alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, "things", tt.q)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(docs) != tt.want {
				t.Fatalf("len(docs) = %d, want %d", len(docs), tt.want)
			}
			if tt.first != "" && docs[0].Fields.String("name") != tt.first {
				t.Errorf("first = %q, want %q", docs[0].Fields.String("name"), tt.first)
			}
		})
	}
}

func TestBatchWrite(t *testing.T) {
	s := Open()
	ctx := context.Background()

	id, _ := s.Create(ctx, "things", "", document.Fields{"n": "1"})

	// over the ceiling
	big := make([]document.WriteOp, document.MaxBatchSize+1)
	for i := range big {
		big[i] = document.CreateOp("things", fmt.Sprintf("b%d", i), document.Fields{})
	}
	if err := s.BatchWrite(ctx, big); errors.Cause(err) != document.ErrBatchTooLarge {
		t.Fatalf("BatchWrite(big) error = %v, want ErrBatchTooLarge", err)
	}

	// all-or-nothing: one bad target aborts the whole batch
	err := s.BatchWrite(ctx, []document.WriteOp{
		document.UpdateOp("things", id, document.Fields{"n": "2"}),
		document.UpdateOp("things", "missing", document.Fields{"n": "3"}),
	})
	if errors.Cause(err) != document.ErrNotFound {
		t.Fatalf("BatchWrite() error = %v, want ErrNotFound", err)
	}
	doc, _ := s.Get(ctx, "things", id)
	if doc.Fields.String("n") != "1" {
		t.Error("failed batch partially applied")
	}

	// happy path
	err = s.BatchWrite(ctx, []document.WriteOp{
		document.UpdateOp("things", id, document.Fields{"n": "2"}),
		document.CreateOp("things", "new", document.Fields{"n": "9"}),
		document.DeleteOp("things", id),
	})
	if err != nil {
		t.Fatalf("BatchWrite() error = %v", err)
	}
	if _, err = s.Get(ctx, "things", id); errors.Cause(err) != document.ErrNotFound {
		t.Error("delete op not applied")
	}
	if doc, err = s.Get(ctx, "things", "new"); err != nil || doc.Fields.String("n") != "9" {
		t.Error("create op not applied")
	}
}

func TestTransactionReadYourWrites(t *testing.T) {
	s := Open()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx document.Tx) error {
		if _, err := tx.Create("things", "t1", document.Fields{"group": "x"}); err != nil {
			return err
		}
		doc, err := tx.Get("things", "t1")
		if err != nil {
			return err
		}
		if doc.Fields.String("group") != "x" {
			t.Error("tx.Get does not see staged create")
		}

		docs, err := tx.Query("things", document.Query{Filters: []document.Filter{document.Where("group", "x")}})
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			t.Errorf("tx.Query len = %d, want 1", len(docs))
		}

		if err = tx.Delete("things", "t1"); err != nil {
			return err
		}
		if _, err = tx.Get("things", "t1"); errors.Cause(err) != document.ErrNotFound {
			t.Errorf("tx.Get after staged delete error = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}

	if _, err = s.Get(ctx, "things", "t1"); errors.Cause(err) != document.ErrNotFound {
		t.Error("staged delete not committed")
	}
}

func TestTransactionRetryOnDocConflict(t *testing.T) {
	s := Open()
	ctx := context.Background()

	id, _ := s.Create(ctx, "counters", "", document.Fields{"n": "0"})

	attempts := 0
	err := s.RunTransaction(ctx, func(tx document.Tx) error {
		attempts++
		doc, err := tx.Get("counters", id)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// interleaved writer invalidates the read
			if err := s.Update(ctx, "counters", id, document.Fields{"n": "interloper"}); err != nil {
				return err
			}
		}
		return tx.Update("counters", id, document.Fields{"n": doc.Fields.String("n") + "+1"})
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	doc, _ := s.Get(ctx, "counters", id)
	if got := doc.Fields.String("n"); got != "interloper+1" {
		t.Errorf("n = %q, want %q", got, "interloper+1")
	}
}

func TestTransactionRetryOnQueryConflict(t *testing.T) {
	s := Open()
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(tx document.Tx) error {
		attempts++
		docs, err := tx.Query("masters", document.Query{Filters: []document.Filter{document.Where("key", "abc")}})
		if err != nil {
			return err
		}
		if attempts == 1 {
			// another writer creates a matching doc after our query
			if _, err := s.Create(ctx, "masters", "m1", document.Fields{"key": "abc"}); err != nil {
				return err
			}
		}
		if len(docs) == 0 {
			_, err = tx.Create("masters", "", document.Fields{"key": "abc"})
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	// the retry observed m1 and did not create a duplicate
	docs, _ := s.Query(ctx, "masters", document.Query{Filters: []document.Filter{document.Where("key", "abc")}})
	if len(docs) != 1 {
		t.Errorf("len(docs) = %d, want 1", len(docs))
	}
}

func TestTransactionGivesUp(t *testing.T) {
	s := Open()
	ctx := context.Background()

	id, _ := s.Create(ctx, "counters", "", document.Fields{"n": "0"})

	attempts := 0
	err := s.RunTransaction(ctx, func(tx document.Tx) error {
		attempts++
		if _, err := tx.Get("counters", id); err != nil {
			return err
		}
		// every attempt is invalidated
		if err := s.Update(ctx, "counters", id, document.Fields{"n": "x"}); err != nil {
			return err
		}
		return tx.Update("counters", id, document.Fields{"n": "y"})
	})
	if errors.Cause(err) != document.ErrConflict {
		t.Fatalf("RunTransaction() error = %v, want ErrConflict", err)
	}
	if attempts != maxTxAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxTxAttempts)
	}
}

func TestTransactionErrorAborts(t *testing.T) {
	s := Open()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(tx document.Tx) error {
		if _, err := tx.Create("things", "t1", document.Fields{}); err != nil {
			return err
		}
		return boom
	})
	if errors.Cause(err) != boom {
		t.Fatalf("RunTransaction() error = %v, want boom", err)
	}
	if _, err = s.Get(ctx, "things", "t1"); errors.Cause(err) != document.ErrNotFound {
		t.Error("aborted transaction leaked a write")
	}
}
