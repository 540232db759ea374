package application

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/user"
	"github.com/mbalire/internhub/storage/document"
)

var (
	ErrNotFound          = core.NewNotFoundError("application not found")
	ErrActiveApplication = core.NewPreconditionError("an active application already exists for this student")
)

type Service struct {
	store   document.Store
	usrSvc  *user.Service
	mailSvc core.EmailService
}

func NewService(store document.Store, usrSvc *user.Service, mailSvc core.EmailService) *Service {
	return &Service{store: store, usrSvc: usrSvc, mailSvc: mailSvc}
}

// Submit creates a new pending application for the acting student. The
// active-application check runs inside the transaction so two concurrent
// submissions cannot both pass it. tempRef points at the temp college record
// created for a free-text college name, if any.
func (svc *Service) Submit(ctx context.Context, actor user.Actor, na NewApplication, tempRef string) (Application, error) {
	if !actor.IsStudent() {
		return Application{}, core.NewPermissionError("only students may submit applications")
	}

	now := time.Now().UTC()
	app := Application{
		CreatedBy:      actor.ID,
		Status:         StatusPending,
		InternshipType: na.InternshipType,
		StartDate:      na.StartDate,
		EndDate:        na.EndDate,
		BloodGroup:     na.BloodGroup,
		Phone:          na.Phone,
		Address:        na.Address,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if na.CollegeID != "" {
		app.College = College{ID: na.CollegeID, Name: na.CollegeName}
	} else {
		app.College = College{Name: na.CollegeName, TempRef: tempRef}
	}

	err := svc.store.RunTransaction(ctx, func(tx document.Tx) error {
		existing, err := tx.Query(Collection, document.Query{
			Filters: []document.Filter{document.Where("createdBy", actor.ID)},
		})
		if err != nil {
			return err
		}
		for _, doc := range existing {
			if Status(doc.Fields.String("status")).Active() {
				return ErrActiveApplication
			}
		}
		id, err := tx.Create(Collection, "", toFields(app))
		app.ID = id
		return err
	})
	if err != nil {
		return Application{}, wrapStoreErr(err)
	}
	return app, nil
}

func (svc *Service) Approve(ctx context.Context, id string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionApprove, Payload{}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Application approved",
		"Your internship application has been approved. Please submit your payment receipt to proceed.")
	return app, nil
}

// Reject declines a pending application and archives a copy of the final
// record for audit.
func (svc *Service) Reject(ctx context.Context, id string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionReject, Payload{}, actor, RejectedCollection)
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Application rejected",
		"We are sorry; your internship application was not accepted.")
	return app, nil
}

func (svc *Service) SubmitPaymentReceipt(ctx context.Context, id, receiptNumber string, actor user.Actor) (Application, error) {
	return svc.transition(ctx, id, ActionSubmitPaymentReceipt, Payload{ReceiptNumber: receiptNumber}, actor, "")
}

func (svc *Service) VerifyPayment(ctx context.Context, id string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionVerifyPayment, Payload{}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Payment verified",
		"Your payment has been verified and your application is now accepted.")
	return app, nil
}

func (svc *Service) RejectPayment(ctx context.Context, id, reason string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionRejectPayment, Payload{Reason: reason}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Payment rejected",
		"Your payment receipt was rejected: "+reason+". Please submit a new receipt.")
	return app, nil
}

func (svc *Service) SubmitConfirmationNumber(ctx context.Context, id, confirmationNumber string, actor user.Actor) (Application, error) {
	return svc.transition(ctx, id, ActionSubmitConfirmationNumber, Payload{ConfirmationNumber: confirmationNumber}, actor, "")
}

func (svc *Service) CompleteInternship(ctx context.Context, id string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionCompleteInternship, Payload{}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Internship completed",
		"Congratulations! Your internship has been marked as completed.")
	return app, nil
}

func (svc *Service) RejectConfirmation(ctx context.Context, id, reason string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionRejectConfirmation, Payload{Reason: reason}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Confirmation rejected",
		"Your confirmation number was rejected: "+reason+". Please submit it again.")
	return app, nil
}

func (svc *Service) RequestCoverLetter(ctx context.Context, id string, actor user.Actor) (Application, error) {
	app, err := svc.transition(ctx, id, ActionRequestCoverLetter, Payload{}, actor, "")
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Cover letter requested",
		"A reviewer has requested a cover letter for your application. Please upload it from your dashboard.")
	return app, nil
}

func (svc *Service) UploadCoverLetter(ctx context.Context, id, url string, actor user.Actor) (Application, error) {
	return svc.transition(ctx, id, ActionUploadCoverLetter, Payload{CoverLetterURL: url}, actor, "")
}

// FinishTrainee closes out an internship early or on time, archiving a full
// copy of the record before the live status changes.
func (svc *Service) FinishTrainee(ctx context.Context, id string, finishedStatus Status, reason string, actor user.Actor) (Application, error) {
	p := Payload{FinishedStatus: finishedStatus, FinishedReason: reason}
	app, err := svc.transition(ctx, id, ActionFinishTrainee, p, actor, FinishedCollection)
	if err != nil {
		return Application{}, err
	}
	svc.notify(ctx, app, "Internship "+string(finishedStatus),
		"Your internship has been marked as "+string(finishedStatus)+": "+reason)
	return app, nil
}

// transition re-reads the application inside a transaction, applies the
// action against the fresh state and commits the resulting merge set. When
// archiveTo is set, a copy of the post-transition record is created there in
// the same transaction.
func (svc *Service) transition(ctx context.Context, id string, action Action, p Payload, actor user.Actor, archiveTo string) (Application, error) {
	var app Application
	err := svc.store.RunTransaction(ctx, func(tx document.Tx) error {
		doc, err := tx.Get(Collection, id)
		if err != nil {
			return err
		}
		app = fromDoc(doc)

		changes, err := Apply(app, action, p, actor)
		if err != nil {
			return err
		}

		if archiveTo != "" {
			archive := doc.Fields.Clone()
			for k, v := range changes {
				if v == document.DeleteField {
					delete(archive, k)
					continue
				}
				archive[k] = v
			}
			if _, err = tx.Create(archiveTo, doc.ID, archive); err != nil {
				return err
			}
		}
		return tx.Update(Collection, id, changes)
	})
	if err != nil {
		return Application{}, wrapStoreErr(err)
	}
	return svc.GetByID(ctx, id, actor)
}

func (svc *Service) GetByID(ctx context.Context, id string, actor user.Actor) (Application, error) {
	doc, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		return Application{}, wrapStoreErr(err)
	}
	app := fromDoc(doc)
	if !actor.IsReviewer() && app.CreatedBy != actor.ID {
		return Application{}, core.NewPermissionError("not your application")
	}
	return app, nil
}

// Filter lists applications newest-first. Students are always scoped to
// their own records regardless of the filter.
func (svc *Service) Filter(ctx context.Context, qf QueryFilter, actor user.Actor) ([]Application, error) {
	if !actor.IsReviewer() {
		qf.CreatedBy = actor.ID
	}

	q := document.Query{OrderBy: "createdAt", Descending: true}
	if qf.CreatedBy != "" {
		q.Filters = append(q.Filters, document.Where("createdBy", qf.CreatedBy))
	}
	if qf.Status != "" {
		q.Filters = append(q.Filters, document.Where("status", qf.Status))
	}

	docs, err := svc.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, core.NewUnavailableError(err)
	}
	apps := make([]Application, 0, len(docs))
	for _, doc := range docs {
		apps = append(apps, fromDoc(doc))
	}
	return apps, nil
}

// ActiveForStudent returns the student's single in-flight application, or
// ErrNotFound when none exists.
func (svc *Service) ActiveForStudent(ctx context.Context, studentID string) (Application, error) {
	docs, err := svc.store.Query(ctx, Collection, document.Query{
		Filters: []document.Filter{document.Where("createdBy", studentID)},
	})
	if err != nil {
		return Application{}, core.NewUnavailableError(err)
	}
	for _, doc := range docs {
		if app := fromDoc(doc); app.Status.Active() {
			return app, nil
		}
	}
	return Application{}, ErrNotFound
}

// notify emails the applicant about a status change. Failures never fail the
// transition that triggered them.
func (svc *Service) notify(ctx context.Context, app Application, subject, message string) {
	usr, err := svc.usrSvc.GetByID(ctx, app.CreatedBy)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      subject,
		TemplateName: "application-update",
		TemplateData: struct {
			Name    string
			Message string
		}{usr.Name, message},
	})
}

func wrapStoreErr(err error) error {
	switch cause := errors.Cause(err); cause {
	case document.ErrNotFound:
		return ErrNotFound
	case document.ErrExists, document.ErrConflict:
		return core.NewUnavailableError(err)
	}
	if core.IsArgumentError(err) || core.IsPreconditionError(err) || core.IsTransitionError(err) ||
		core.IsPermissionError(err) || core.IsNotFoundError(err) {
		return err
	}
	return core.NewUnavailableError(err)
}
