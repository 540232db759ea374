package college

import (
	"context"
	"fmt"
	"testing"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
	"github.com/mbalire/internhub/storage/document"
	"github.com/mbalire/internhub/storage/document/inmem"
)

var (
	adminActor   = user.Actor{ID: "adm1", Role: user.RoleAdmin}
	studentActor = user.Actor{ID: "stu1", Role: user.RoleStudent}
)

func newTestService(t *testing.T) (*Service, *inmem.Store) {
	t.Helper()
	store := inmem.Open()
	return NewService(store), store
}

func createTemp(t *testing.T, svc *Service, name string) TempCollege {
	t.Helper()
	temp, err := svc.CreateTemp(context.Background(), NewTempCollege{
		Name:    name,
		Address: "Plot 1, Main St",
		Contact: "0700000001",
	}, studentActor.ID)
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	return temp
}

func createStudentDoc(t *testing.T, store *inmem.Store, id, tempName string) {
	t.Helper()
	_, err := store.Create(context.Background(), student.Collection, id, document.Fields{
		"name":            "Student " + id,
		"collegeNameTemp": tempName,
	})
	if err != nil {
		t.Fatalf("seeding student %s: %v", id, err)
	}
}

// A fresh name promotes to a brand new master record.
func TestPromote_createsMaster(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	temp := createTemp(t, svc, "XYZ College")
	createStudentDoc(t, store, "stu1", "XYZ College")
	createStudentDoc(t, store, "stu2", "XYZ College")

	res, err := svc.Promote(ctx, temp.ID, adminActor)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if res.Status != StatusPromoted {
		t.Errorf("status = %q, want promoted", res.Status)
	}
	if res.MasterID == "" {
		t.Fatal("no master id")
	}
	if res.Updated != 2 {
		t.Errorf("updated = %d, want 2", res.Updated)
	}

	master, err := svc.GetMaster(ctx, res.MasterID)
	if err != nil {
		t.Fatalf("GetMaster() error = %v", err)
	}
	if master.Name != "XYZ College" || master.NameLower != "xyz college" {
		t.Errorf("master = %+v", master)
	}
	if master.Address != temp.Address || master.Contact != temp.Contact {
		t.Error("master not seeded from temp record")
	}

	resolved, err := svc.GetTemp(ctx, temp.ID)
	if err != nil {
		t.Fatalf("GetTemp() error = %v", err)
	}
	if !resolved.Resolved || resolved.LinkedTo != res.MasterID || resolved.ResolvedBy != adminActor.ID {
		t.Errorf("temp after promote = %+v", resolved)
	}

	// fan-out rewrote the student records
	doc, err := store.Get(ctx, student.Collection, "stu1")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Fields.String("collegeId"); got != res.MasterID {
		t.Errorf("collegeId = %q, want %q", got, res.MasterID)
	}
	if doc.Fields.Has("collegeNameTemp") {
		t.Error("collegeNameTemp was not cleared")
	}
	if got := doc.Fields.String("collegeTempRef"); got != temp.ID {
		t.Errorf("collegeTempRef = %q, want %q", got, temp.ID)
	}
	if got := doc.Fields.String("handledBy"); got != adminActor.ID {
		t.Errorf("handledBy = %q", got)
	}
}

// Two temp records whose names normalize identically resolve to one master.
func TestPromote_linksToExisting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := createTemp(t, svc, "ABC Institute")
	second := createTemp(t, svc, "  abc INSTITUTE ")

	res1, err := svc.Promote(ctx, first.ID, adminActor)
	if err != nil {
		t.Fatalf("Promote(first) error = %v", err)
	}
	if res1.Status != StatusPromoted {
		t.Fatalf("first status = %q, want promoted", res1.Status)
	}

	res2, err := svc.Promote(ctx, second.ID, adminActor)
	if err != nil {
		t.Fatalf("Promote(second) error = %v", err)
	}
	if res2.Status != StatusLinkedToExisting {
		t.Errorf("second status = %q, want linked_to_existing", res2.Status)
	}
	if res2.MasterID != res1.MasterID {
		t.Errorf("master ids differ: %q vs %q", res1.MasterID, res2.MasterID)
	}

	masters, err := svc.SearchMaster(ctx, "abc")
	if err != nil {
		t.Fatalf("SearchMaster() error = %v", err)
	}
	if len(masters) != 1 {
		t.Errorf("len(masters) = %d, want 1", len(masters))
	}
}

func TestPromote_idempotence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	temp := createTemp(t, svc, "Solo College")
	if _, err := svc.Promote(ctx, temp.ID, adminActor); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	_, err := svc.Promote(ctx, temp.ID, adminActor)
	if !core.IsPreconditionError(err) {
		t.Fatalf("second Promote() error = %v, want precondition error", err)
	}

	masters, err := svc.SearchMaster(ctx, "solo")
	if err != nil {
		t.Fatal(err)
	}
	if len(masters) != 1 {
		t.Errorf("len(masters) = %d, want exactly 1", len(masters))
	}
}

func TestPromote_validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Promote(ctx, "tmp1", studentActor); !core.IsPermissionError(err) {
		t.Errorf("non-admin Promote() error = %v, want permission error", err)
	}
	if _, err := svc.Promote(ctx, "", adminActor); !core.IsArgumentError(err) {
		t.Errorf("Promote(\"\") error = %v, want argument error", err)
	}
	if _, err := svc.Promote(ctx, "missing", adminActor); !core.IsNotFoundError(err) {
		t.Errorf("Promote(missing) error = %v, want not found", err)
	}
}

// The fan-out commits in batches no larger than the store's write-set limit.
func TestPromote_fanOutChunking(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	total := document.MaxBatchSize + 50
	temp := createTemp(t, svc, "Big College")
	for i := 0; i < total; i++ {
		createStudentDoc(t, store, fmt.Sprintf("stu%04d", i), "Big College")
	}

	res, err := svc.Promote(ctx, temp.ID, adminActor)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if res.Updated != total {
		t.Errorf("updated = %d, want %d", res.Updated, total)
	}

	left, err := store.Query(ctx, student.Collection, document.Query{
		Filters: []document.Filter{document.Where("collegeNameTemp", "Big College")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("%d student records still carry the temp name", len(left))
	}
}

// A re-run of the fan-out only touches records still carrying the temp name.
func TestResumeFanOut(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	temp := createTemp(t, svc, "Resume College")
	res, err := svc.Promote(ctx, temp.ID, adminActor)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if res.Updated != 0 {
		t.Fatalf("updated = %d, want 0", res.Updated)
	}

	// a straggler appears after the promotion
	createStudentDoc(t, store, "late1", "Resume College")

	res, err = svc.ResumeFanOut(ctx, temp.ID, adminActor)
	if err != nil {
		t.Fatalf("ResumeFanOut() error = %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("updated = %d, want 1", res.Updated)
	}
	if res.MasterID == "" {
		t.Error("no master id")
	}

	// nothing left to do on a second run
	res, err = svc.ResumeFanOut(ctx, temp.ID, adminActor)
	if err != nil {
		t.Fatalf("ResumeFanOut() rerun error = %v", err)
	}
	if res.Updated != 0 {
		t.Errorf("updated = %d, want 0", res.Updated)
	}

	// unresolved temp records cannot resume
	fresh := createTemp(t, svc, "Other College")
	if _, err = svc.ResumeFanOut(ctx, fresh.ID, adminActor); !core.IsPreconditionError(err) {
		t.Errorf("ResumeFanOut(unresolved) error = %v, want precondition error", err)
	}
}

func TestSaveTemp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	temp := createTemp(t, svc, "Typo College")

	if _, err := svc.SaveTemp(ctx, temp.ID, UpdateTempCollege{Name: "Fixed College"}, studentActor); !core.IsPermissionError(err) {
		t.Fatalf("non-admin SaveTemp() error = %v, want permission error", err)
	}

	updated, err := svc.SaveTemp(ctx, temp.ID, UpdateTempCollege{Name: "Fixed College", Address: "New Rd"}, adminActor)
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}
	if updated.Name != "Fixed College" || updated.Address != "New Rd" {
		t.Errorf("temp after save = %+v", updated)
	}

	// resolved records are immutable
	if _, err = svc.Promote(ctx, temp.ID, adminActor); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if _, err = svc.SaveTemp(ctx, temp.ID, UpdateTempCollege{Name: "Nope"}, adminActor); !core.IsPreconditionError(err) {
		t.Errorf("SaveTemp(resolved) error = %v, want precondition error", err)
	}
}

func TestListTemp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := createTemp(t, svc, "College A")
	createTemp(t, svc, "College B")
	if _, err := svc.Promote(ctx, a.ID, adminActor); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}

	all, err := svc.ListTemp(ctx, nil)
	if err != nil {
		t.Fatalf("ListTemp() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}

	unresolved := false
	pending, err := svc.ListTemp(ctx, &unresolved)
	if err != nil {
		t.Fatalf("ListTemp(unresolved) error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "College B" {
		t.Errorf("pending = %+v, want College B only", pending)
	}
}
