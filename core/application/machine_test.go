package application

import (
	"testing"

	"github.com/volatiletech/null/v8"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/user"
	"github.com/mbalire/internhub/storage/document"
)

var (
	applicant = user.Actor{ID: "stu1", Role: user.RoleStudent}
	otherStu  = user.Actor{ID: "stu2", Role: user.RoleStudent}
	reviewer  = user.Actor{ID: "sup1", Role: user.RoleSupervisor}
	admin     = user.Actor{ID: "adm1", Role: user.RoleAdmin}
)

func appIn(status Status) Application {
	return Application{ID: "app1", CreatedBy: applicant.ID, Status: status}
}

type errKind int

const (
	errNone errKind = iota
	errArgument
	errPermission
	errTransition
	errPrecondition
)

func checkErrKind(t *testing.T, err error, want errKind) {
	t.Helper()
	switch want {
	case errNone:
		if err != nil {
			t.Fatalf("unexpected error = %v", err)
		}
	case errArgument:
		if !core.IsArgumentError(err) {
			t.Fatalf("error = %v, want argument error", err)
		}
	case errPermission:
		if !core.IsPermissionError(err) {
			t.Fatalf("error = %v, want permission error", err)
		}
	case errTransition:
		if !core.IsTransitionError(err) {
			t.Fatalf("error = %v, want transition error", err)
		}
	case errPrecondition:
		if !core.IsPreconditionError(err) {
			t.Fatalf("error = %v, want precondition error", err)
		}
	}
}

func TestApply_statusGates(t *testing.T) {
	tests := []struct {
		name    string
		app     Application
		action  Action
		payload Payload
		actor   user.Actor
		wantErr errKind
		// checked on success
		wantStatus Status
	}{
		{name: "approve pending", app: appIn(StatusPending), action: ActionApprove, actor: reviewer, wantStatus: StatusApproved},
		{name: "approve approved", app: appIn(StatusApproved), action: ActionApprove, actor: reviewer, wantErr: errTransition},
		{name: "approve completed", app: appIn(StatusCompleted), action: ActionApprove, actor: reviewer, wantErr: errTransition},
		{name: "reject pending", app: appIn(StatusPending), action: ActionReject, actor: admin, wantStatus: StatusRejected},
		{name: "reject accepted", app: appIn(StatusAccepted), action: ActionReject, actor: admin, wantErr: errTransition},

		{name: "receipt on approved", app: appIn(StatusApproved), action: ActionSubmitPaymentReceipt, payload: Payload{ReceiptNumber: "R-100"}, actor: applicant, wantStatus: StatusApproved},
		{name: "receipt on pending", app: appIn(StatusPending), action: ActionSubmitPaymentReceipt, payload: Payload{ReceiptNumber: "R-100"}, actor: applicant, wantErr: errTransition},
		{name: "receipt empty", app: appIn(StatusApproved), action: ActionSubmitPaymentReceipt, actor: applicant, wantErr: errArgument},

		{name: "verify payment", app: appIn(StatusApproved), action: ActionVerifyPayment, actor: reviewer, wantStatus: StatusAccepted},
		{name: "verify already verified", app: func() Application {
			a := appIn(StatusApproved)
			a.PaymentStatus = PaymentVerified
			return a
		}(), action: ActionVerifyPayment, actor: reviewer, wantErr: errPrecondition},
		{name: "verify on accepted", app: appIn(StatusAccepted), action: ActionVerifyPayment, actor: reviewer, wantErr: errTransition},

		{name: "reject payment", app: appIn(StatusApproved), action: ActionRejectPayment, payload: Payload{Reason: "invalid receipt"}, actor: reviewer, wantStatus: StatusApproved},
		{name: "reject payment no reason", app: appIn(StatusApproved), action: ActionRejectPayment, actor: reviewer, wantErr: errArgument},

		{name: "confirmation number", app: appIn(StatusAccepted), action: ActionSubmitConfirmationNumber, payload: Payload{ConfirmationNumber: "C-1"}, actor: applicant, wantStatus: StatusPendingConfirmation},
		{name: "confirmation number empty", app: appIn(StatusAccepted), action: ActionSubmitConfirmationNumber, actor: applicant, wantErr: errArgument},
		{name: "confirmation number wrong state", app: appIn(StatusApproved), action: ActionSubmitConfirmationNumber, payload: Payload{ConfirmationNumber: "C-1"}, actor: applicant, wantErr: errTransition},

		{name: "complete", app: appIn(StatusPendingConfirmation), action: ActionCompleteInternship, actor: reviewer, wantStatus: StatusCompleted},
		{name: "complete wrong state", app: appIn(StatusAccepted), action: ActionCompleteInternship, actor: reviewer, wantErr: errTransition},

		{name: "reject confirmation", app: appIn(StatusPendingConfirmation), action: ActionRejectConfirmation, payload: Payload{Reason: "bad number"}, actor: reviewer, wantStatus: StatusAccepted},
		{name: "reject confirmation no reason", app: appIn(StatusPendingConfirmation), action: ActionRejectConfirmation, actor: reviewer, wantErr: errArgument},

		{name: "request cover letter pending", app: appIn(StatusPending), action: ActionRequestCoverLetter, actor: reviewer},
		{name: "request cover letter accepted", app: appIn(StatusAccepted), action: ActionRequestCoverLetter, actor: reviewer},
		{name: "request cover letter terminal", app: appIn(StatusRejected), action: ActionRequestCoverLetter, actor: reviewer, wantErr: errTransition},

		{name: "finish accepted", app: appIn(StatusAccepted), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusTerminated, FinishedReason: "left early"}, actor: reviewer, wantStatus: StatusTerminated},
		{name: "finish pending_confirmation", app: appIn(StatusPendingConfirmation), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusCompleted, FinishedReason: "done"}, actor: reviewer, wantStatus: StatusCompleted},
		{name: "finish pending", app: appIn(StatusPending), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusTerminated, FinishedReason: "x"}, actor: reviewer, wantErr: errTransition},
		{name: "finish no reason", app: appIn(StatusAccepted), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusTerminated}, actor: reviewer, wantErr: errArgument},
		{name: "finish bad status", app: appIn(StatusAccepted), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusPending, FinishedReason: "x"}, actor: reviewer, wantErr: errArgument},

		{name: "unknown action", app: appIn(StatusPending), action: Action("frobnicate"), actor: reviewer, wantErr: errArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := Apply(tt.app, tt.action, tt.payload, tt.actor)
			checkErrKind(t, err, tt.wantErr)
			if tt.wantErr != errNone {
				if changes != nil {
					t.Errorf("changes = %v, want nil on error", changes)
				}
				return
			}
			if tt.wantStatus != "" {
				if got := changes.String("status"); got != string(tt.wantStatus) {
					t.Errorf("status = %q, want %q", got, tt.wantStatus)
				}
			}
		})
	}
}

func TestApply_roles(t *testing.T) {
	tests := []struct {
		name    string
		app     Application
		action  Action
		payload Payload
		actor   user.Actor
		wantErr errKind
	}{
		{name: "student cannot approve", app: appIn(StatusPending), action: ActionApprove, actor: applicant, wantErr: errPermission},
		{name: "student cannot verify payment", app: appIn(StatusApproved), action: ActionVerifyPayment, actor: applicant, wantErr: errPermission},
		{name: "student cannot finish", app: appIn(StatusAccepted), action: ActionFinishTrainee, payload: Payload{FinishedStatus: StatusTerminated, FinishedReason: "x"}, actor: applicant, wantErr: errPermission},
		{name: "other student cannot submit receipt", app: appIn(StatusApproved), action: ActionSubmitPaymentReceipt, payload: Payload{ReceiptNumber: "R"}, actor: otherStu, wantErr: errPermission},
		{name: "reviewer cannot submit receipt for student", app: appIn(StatusApproved), action: ActionSubmitPaymentReceipt, payload: Payload{ReceiptNumber: "R"}, actor: reviewer, wantErr: errPermission},
		{name: "admin may approve", app: appIn(StatusPending), action: ActionApprove, actor: admin},
		{name: "applicant may submit receipt", app: appIn(StatusApproved), action: ActionSubmitPaymentReceipt, payload: Payload{ReceiptNumber: "R"}, actor: applicant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.app, tt.action, tt.payload, tt.actor)
			checkErrKind(t, err, tt.wantErr)
		})
	}
}

func TestApply_paymentRejectEffects(t *testing.T) {
	changes, err := Apply(appIn(StatusApproved), ActionRejectPayment, Payload{Reason: "invalid receipt"}, reviewer)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if changes["paymentReceiptNumber"] != document.DeleteField {
		t.Error("paymentReceiptNumber was not cleared")
	}
	if got := changes.String("paymentRejectReason"); got != "invalid receipt" {
		t.Errorf("paymentRejectReason = %q", got)
	}
	if got := changes.String("paymentStatus"); got != string(PaymentRejected) {
		t.Errorf("paymentStatus = %q", got)
	}
	if _, ok := changes["status"]; ok {
		t.Error("status must not change on payment rejection")
	}
}

func TestApply_confirmationRejectEffects(t *testing.T) {
	app := appIn(StatusPendingConfirmation)
	app.FinalConfirmationNumber = null.StringFrom("C-1")

	changes, err := Apply(app, ActionRejectConfirmation, Payload{Reason: "number mismatch"}, reviewer)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if changes["finalConfirmationNumber"] != document.DeleteField {
		t.Error("finalConfirmationNumber was not cleared")
	}
	if got := changes.String("confirmationRejectReason"); got != "number mismatch" {
		t.Errorf("confirmationRejectReason = %q", got)
	}
	if got := changes.String("status"); got != string(StatusAccepted) {
		t.Errorf("status = %q, want accepted", got)
	}
}

func TestApply_coverLetter(t *testing.T) {
	app := appIn(StatusPending)

	// upload before request
	if _, err := Apply(app, ActionUploadCoverLetter, Payload{CoverLetterURL: "https://files/cl.pdf"}, applicant); !core.IsPreconditionError(err) {
		t.Fatalf("error = %v, want precondition error", err)
	}

	app.CoverLetterRequested = true
	changes, err := Apply(app, ActionUploadCoverLetter, Payload{CoverLetterURL: "https://files/cl.pdf"}, applicant)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := changes.String("coverLetterUrl"); got != "https://files/cl.pdf" {
		t.Errorf("coverLetterUrl = %q", got)
	}
	if requested, _ := changes["coverLetterRequested"].(bool); requested {
		t.Error("coverLetterRequested must be cleared after upload")
	}

	// second upload
	app.CoverLetterURL = null.StringFrom("https://files/cl.pdf")
	if _, err = Apply(app, ActionUploadCoverLetter, Payload{CoverLetterURL: "https://files/other.pdf"}, applicant); !core.IsPreconditionError(err) {
		t.Fatalf("error = %v, want precondition error", err)
	}
}
