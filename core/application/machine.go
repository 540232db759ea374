package application

import (
	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/user"
	"github.com/mbalire/internhub/storage/document"
)

// Action is a workflow trigger on an existing application. Submission is not
// an Action; it creates the document and is handled by the service directly.
type Action string

const (
	ActionApprove                  Action = "approve"
	ActionReject                   Action = "reject"
	ActionSubmitPaymentReceipt     Action = "submit_payment_receipt"
	ActionVerifyPayment            Action = "verify_payment"
	ActionRejectPayment            Action = "reject_payment"
	ActionSubmitConfirmationNumber Action = "submit_confirmation_number"
	ActionCompleteInternship       Action = "complete_internship"
	ActionRejectConfirmation       Action = "reject_confirmation"
	ActionRequestCoverLetter       Action = "request_cover_letter"
	ActionUploadCoverLetter        Action = "upload_cover_letter"
	ActionFinishTrainee            Action = "finish_trainee"
)

// Payload carries the free-form inputs an Action may require.
type Payload struct {
	ReceiptNumber      string
	ConfirmationNumber string
	Reason             string
	CoverLetterURL     string
	FinishedStatus     Status
	FinishedReason     string
}

// actionStatuses defines, per action, the statuses in which the action exists
// at all. An action applied outside this set is an invalid transition;
// further gates inside the set fail as precondition errors.
var actionStatuses = map[Action][]Status{
	ActionApprove:                  {StatusPending},
	ActionReject:                   {StatusPending},
	ActionSubmitPaymentReceipt:     {StatusApproved},
	ActionVerifyPayment:            {StatusApproved},
	ActionRejectPayment:            {StatusApproved},
	ActionSubmitConfirmationNumber: {StatusAccepted},
	ActionCompleteInternship:       {StatusPendingConfirmation},
	ActionRejectConfirmation:       {StatusPendingConfirmation},
	ActionRequestCoverLetter:       ActiveStatuses,
	ActionUploadCoverLetter:        ActiveStatuses,
	ActionFinishTrainee:            {StatusAccepted, StatusPendingConfirmation},
}

// studentActions are triggered by the applicant; everything else is a
// reviewer action.
var studentActions = map[Action]bool{
	ActionSubmitPaymentReceipt:     true,
	ActionSubmitConfirmationNumber: true,
	ActionUploadCoverLetter:        true,
}

func isDefinedFor(action Action, status Status) bool {
	for _, st := range actionStatuses[action] {
		if st == status {
			return true
		}
	}
	return false
}

// Apply checks that the actor may run the action against the application's
// current state and returns the field changes the action produces. It writes
// nothing itself; the caller commits the returned merge set.
func Apply(app Application, action Action, p Payload, actor user.Actor) (document.Fields, error) {
	if _, ok := actionStatuses[action]; !ok {
		return nil, core.NewArgumentError("unknown action " + string(action))
	}

	if studentActions[action] {
		if actor.ID != app.CreatedBy {
			return nil, core.NewPermissionError("only the applicant may perform this action")
		}
	} else if !actor.IsReviewer() {
		return nil, core.NewPermissionError("reviewer role required")
	}

	if !isDefinedFor(action, app.Status) {
		return nil, core.NewTransitionError(string(app.Status), string(action))
	}

	changes := document.Fields{"updatedAt": document.ServerTimestamp}

	switch action {
	case ActionApprove:
		changes["status"] = string(StatusApproved)
		changes["approvedBy"] = actor.ID
		changes["approvedAt"] = document.ServerTimestamp

	case ActionReject:
		changes["status"] = string(StatusRejected)
		changes["rejectedBy"] = actor.ID
		changes["rejectedAt"] = document.ServerTimestamp

	case ActionSubmitPaymentReceipt:
		if p.ReceiptNumber == "" {
			return nil, core.NewArgumentError("receipt number is required")
		}
		changes["paymentReceiptNumber"] = p.ReceiptNumber
		changes["paymentStatus"] = string(PaymentPending)
		changes["paymentRejectReason"] = document.DeleteField

	case ActionVerifyPayment:
		if app.PaymentStatus == PaymentVerified {
			return nil, core.NewPreconditionError("payment is already verified")
		}
		changes["paymentStatus"] = string(PaymentVerified)
		changes["paymentVerifiedBy"] = actor.ID
		changes["paymentVerifiedAt"] = document.ServerTimestamp
		changes["status"] = string(StatusAccepted)

	case ActionRejectPayment:
		if p.Reason == "" {
			return nil, core.NewArgumentError("a reject reason is required")
		}
		changes["paymentStatus"] = string(PaymentRejected)
		changes["paymentRejectReason"] = p.Reason
		changes["paymentReceiptNumber"] = document.DeleteField

	case ActionSubmitConfirmationNumber:
		if p.ConfirmationNumber == "" {
			return nil, core.NewArgumentError("confirmation number is required")
		}
		changes["finalConfirmationNumber"] = p.ConfirmationNumber
		changes["confirmationSubmittedAt"] = document.ServerTimestamp
		changes["confirmationRejectReason"] = document.DeleteField
		changes["status"] = string(StatusPendingConfirmation)

	case ActionCompleteInternship:
		changes["status"] = string(StatusCompleted)
		changes["completedBy"] = actor.ID
		changes["completedAt"] = document.ServerTimestamp
		changes["confirmationRejectReason"] = document.DeleteField

	case ActionRejectConfirmation:
		if p.Reason == "" {
			return nil, core.NewArgumentError("a reject reason is required")
		}
		changes["finalConfirmationNumber"] = document.DeleteField
		changes["confirmationRejectReason"] = p.Reason
		changes["status"] = string(StatusAccepted)

	case ActionRequestCoverLetter:
		changes["coverLetterRequested"] = true

	case ActionUploadCoverLetter:
		if p.CoverLetterURL == "" {
			return nil, core.NewArgumentError("cover letter URL is required")
		}
		if !app.CoverLetterRequested {
			return nil, core.NewPreconditionError("no cover letter was requested")
		}
		if app.CoverLetterURL.Valid {
			return nil, core.NewPreconditionError("a cover letter was already uploaded")
		}
		changes["coverLetterUrl"] = p.CoverLetterURL
		changes["coverLetterRequested"] = false

	case ActionFinishTrainee:
		if p.FinishedStatus != StatusCompleted && p.FinishedStatus != StatusTerminated {
			return nil, core.NewArgumentError("finished status must be completed or terminated")
		}
		if p.FinishedReason == "" {
			return nil, core.NewArgumentError("a finish reason is required")
		}
		changes["status"] = string(p.FinishedStatus)
		changes["finishedStatus"] = string(p.FinishedStatus)
		changes["finishedReason"] = p.FinishedReason
		changes["finishedBy"] = actor.ID
		changes["finishedAt"] = document.ServerTimestamp
	}

	return changes, nil
}
