package college

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
	"github.com/mbalire/internhub/storage/document"
)

var (
	ErrTempNotFound    = core.NewNotFoundError("temp college not found")
	ErrMasterNotFound  = core.NewNotFoundError("college not found")
	ErrAlreadyResolved = core.NewPreconditionError("temp college is already resolved")

	// masterSearchLimit caps prefix searches on the master list.
	masterSearchLimit = 200
)

type Service struct {
	store document.Store
}

func NewService(store document.Store) *Service {
	return &Service{store: store}
}

// CreateTemp records a candidate college submitted with an application.
func (svc *Service) CreateTemp(ctx context.Context, nt NewTempCollege, submittedBy string) (TempCollege, error) {
	temp := TempCollege{
		Name:        nt.Name,
		Address:     nt.Address,
		Pincode:     nt.Pincode,
		Contact:     nt.Contact,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
	}
	id, err := svc.store.Create(ctx, TempCollection, "", document.Fields{
		"name":        temp.Name,
		"address":     temp.Address,
		"pincode":     temp.Pincode,
		"contact":     temp.Contact,
		"submittedBy": temp.SubmittedBy,
		"submittedAt": temp.SubmittedAt,
		"resolved":    false,
	})
	if err != nil {
		return TempCollege{}, core.NewUnavailableError(err)
	}
	temp.ID = id
	return temp, nil
}

// SaveTemp edits an unresolved temp record ahead of promotion.
func (svc *Service) SaveTemp(ctx context.Context, id string, ut UpdateTempCollege, actor user.Actor) (TempCollege, error) {
	if !actor.IsAdmin() {
		return TempCollege{}, core.NewPermissionError("admin role required")
	}

	err := svc.store.RunTransaction(ctx, func(tx document.Tx) error {
		doc, err := tx.Get(TempCollection, id)
		if err != nil {
			return err
		}
		if doc.Fields.Bool("resolved") {
			return ErrAlreadyResolved
		}
		changes := document.Fields{}
		if ut.Name != "" {
			changes["name"] = ut.Name
		}
		if ut.Address != "" {
			changes["address"] = ut.Address
		}
		if ut.Pincode != "" {
			changes["pincode"] = ut.Pincode
		}
		if ut.Contact != "" {
			changes["contact"] = ut.Contact
		}
		if len(changes) == 0 {
			return nil
		}
		return tx.Update(TempCollection, id, changes)
	})
	if err != nil {
		return TempCollege{}, wrapTempErr(err)
	}
	return svc.GetTemp(ctx, id)
}

func (svc *Service) GetTemp(ctx context.Context, id string) (TempCollege, error) {
	doc, err := svc.store.Get(ctx, TempCollection, id)
	if err != nil {
		return TempCollege{}, wrapTempErr(err)
	}
	return tempFromDoc(doc), nil
}

// ListTemp returns temp records newest-first, optionally filtered on the
// resolved flag.
func (svc *Service) ListTemp(ctx context.Context, resolved *bool) ([]TempCollege, error) {
	q := document.Query{OrderBy: "submittedAt", Descending: true}
	docs, err := svc.store.Query(ctx, TempCollection, q)
	if err != nil {
		return nil, core.NewUnavailableError(err)
	}
	temps := make([]TempCollege, 0, len(docs))
	for _, doc := range docs {
		temp := tempFromDoc(doc)
		if resolved != nil && temp.Resolved != *resolved {
			continue
		}
		temps = append(temps, temp)
	}
	return temps, nil
}

// SearchMaster does a prefix search on the normalized name.
func (svc *Service) SearchMaster(ctx context.Context, prefix string) ([]MasterCollege, error) {
	q := document.Query{OrderBy: "nameLower", Limit: masterSearchLimit}
	if prefix = NormalizeName(prefix); prefix != "" {
		q.Filters = append(q.Filters, document.WherePrefix("nameLower", prefix))
	}
	docs, err := svc.store.Query(ctx, MasterCollection, q)
	if err != nil {
		return nil, core.NewUnavailableError(err)
	}
	masters := make([]MasterCollege, 0, len(docs))
	for _, doc := range docs {
		masters = append(masters, masterFromDoc(doc))
	}
	return masters, nil
}

func (svc *Service) GetMaster(ctx context.Context, id string) (MasterCollege, error) {
	doc, err := svc.store.Get(ctx, MasterCollection, id)
	if err != nil {
		if errors.Cause(err) == document.ErrNotFound {
			return MasterCollege{}, ErrMasterNotFound
		}
		return MasterCollege{}, core.NewUnavailableError(err)
	}
	return masterFromDoc(doc), nil
}

// Promote resolves a temp college: inside one transaction it links the temp
// record to the master matching its normalized name, creating the master if
// none exists, then re-points dependent student records outside the
// transaction in bounded batches. A fan-out failure is partial: the returned
// Updated is a lower bound and ResumeFanOut picks up the remainder.
func (svc *Service) Promote(ctx context.Context, tempID string, actor user.Actor) (PromoteResult, error) {
	if !actor.IsAdmin() {
		return PromoteResult{}, core.NewPermissionError("admin role required")
	}
	if tempID == "" {
		return PromoteResult{}, core.NewArgumentError("temp college id is required")
	}

	var res PromoteResult
	err := svc.store.RunTransaction(ctx, func(tx document.Tx) error {
		doc, err := tx.Get(TempCollection, tempID)
		if err != nil {
			return err
		}
		temp := tempFromDoc(doc)
		if temp.Resolved {
			return ErrAlreadyResolved
		}
		if temp.Name == "" {
			return core.NewArgumentError("temp college has no name")
		}

		res = PromoteResult{Name: temp.Name}
		nameLower := NormalizeName(temp.Name)

		masters, err := tx.Query(MasterCollection, document.Query{
			Filters: []document.Filter{document.Where("nameLower", nameLower)},
			Limit:   1,
		})
		if err != nil {
			return err
		}
		if len(masters) > 0 {
			res.MasterID = masters[0].ID
			res.Status = StatusLinkedToExisting
		} else {
			id, err := tx.Create(MasterCollection, "", document.Fields{
				"name":      temp.Name,
				"nameLower": nameLower,
				"address":   temp.Address,
				"contact":   temp.Contact,
				"createdBy": actor.ID,
				"createdAt": document.ServerTimestamp,
			})
			if err != nil {
				return err
			}
			res.MasterID = id
			res.Status = StatusPromoted
		}

		return tx.Update(TempCollection, tempID, document.Fields{
			"resolved":   true,
			"resolvedBy": actor.ID,
			"resolvedAt": document.ServerTimestamp,
			"linkedTo":   res.MasterID,
		})
	})
	if err != nil {
		return PromoteResult{}, wrapTempErr(err)
	}

	updated, err := svc.fanOut(ctx, res.Name, tempID, res.MasterID, actor)
	res.Updated = updated
	if err != nil {
		return res, errors.Wrap(err, "promoting college: fan-out incomplete")
	}
	return res, nil
}

// ResumeFanOut re-runs the student fan-out for an already-resolved temp
// record. It is idempotent: only records still carrying the old temp name
// are touched.
func (svc *Service) ResumeFanOut(ctx context.Context, tempID string, actor user.Actor) (PromoteResult, error) {
	if !actor.IsAdmin() {
		return PromoteResult{}, core.NewPermissionError("admin role required")
	}

	temp, err := svc.GetTemp(ctx, tempID)
	if err != nil {
		return PromoteResult{}, err
	}
	if !temp.Resolved || temp.LinkedTo == "" {
		return PromoteResult{}, core.NewPreconditionError("temp college is not resolved yet")
	}

	res := PromoteResult{Name: temp.Name, MasterID: temp.LinkedTo, Status: StatusLinkedToExisting}
	updated, err := svc.fanOut(ctx, temp.Name, tempID, temp.LinkedTo, actor)
	res.Updated = updated
	if err != nil {
		return res, errors.Wrap(err, "resuming college fan-out")
	}
	return res, nil
}

// fanOut rewrites every student record still referencing the temp name.
// Batches commit independently; a mid-way failure leaves earlier batches
// applied, which is the designed trade-off for unbounded fan-out.
func (svc *Service) fanOut(ctx context.Context, name, tempID, masterID string, actor user.Actor) (int, error) {
	docs, err := svc.store.Query(ctx, student.Collection, document.Query{
		Filters: []document.Filter{document.Where("collegeNameTemp", name)},
	})
	if err != nil {
		return 0, core.NewUnavailableError(err)
	}

	var updated int
	for start := 0; start < len(docs); start += document.MaxBatchSize {
		end := start + document.MaxBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		ops := make([]document.WriteOp, 0, end-start)
		for _, doc := range docs[start:end] {
			ops = append(ops, document.UpdateOp(student.Collection, doc.ID, document.Fields{
				"collegeId":       masterID,
				"collegeNameTemp": document.DeleteField,
				"collegeTempRef":  tempID,
				"handledBy":       actor.ID,
			}))
		}
		if err = svc.store.BatchWrite(ctx, ops); err != nil {
			return updated, core.NewUnavailableError(err)
		}
		updated += len(ops)
	}
	return updated, nil
}

func wrapTempErr(err error) error {
	if err == nil {
		return nil
	}
	switch cause := errors.Cause(err); cause {
	case document.ErrNotFound:
		return ErrTempNotFound
	case document.ErrConflict:
		return core.NewUnavailableError(err)
	}
	if core.IsArgumentError(err) || core.IsPreconditionError(err) || core.IsPermissionError(err) ||
		core.IsNotFoundError(err) {
		return err
	}
	return core.NewUnavailableError(err)
}

func tempFromDoc(doc document.Document) TempCollege {
	f := doc.Fields
	temp := TempCollege{
		ID:          doc.ID,
		Name:        f.String("name"),
		Address:     f.String("address"),
		Pincode:     f.String("pincode"),
		Contact:     f.String("contact"),
		SubmittedBy: f.String("submittedBy"),
		Resolved:    f.Bool("resolved"),
		ResolvedBy:  f.String("resolvedBy"),
		LinkedTo:    f.String("linkedTo"),
	}
	if t, ok := f.Time("submittedAt"); ok {
		temp.SubmittedAt = t
	}
	if t, ok := f.Time("resolvedAt"); ok {
		temp.ResolvedAt = t
	}
	return temp
}

func masterFromDoc(doc document.Document) MasterCollege {
	f := doc.Fields
	m := MasterCollege{
		ID:        doc.ID,
		Name:      f.String("name"),
		NameLower: f.String("nameLower"),
		Address:   f.String("address"),
		Email:     f.String("email"),
		Contact:   f.String("contact"),
		CreatedBy: f.String("createdBy"),
	}
	if t, ok := f.Time("createdAt"); ok {
		m.CreatedAt = t
	}
	return m
}
