package application

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/mbalire/internhub/core"
)

const (
	// Collection holds live applications; terminal copies land in the
	// archival collections below.
	Collection         = "applications"
	RejectedCollection = "applications_rejected"
	FinishedCollection = "applications_finished"
)

type Status string

const (
	StatusPending             Status = "pending"
	StatusApproved            Status = "approved"
	StatusAccepted            Status = "accepted"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusCompleted           Status = "completed"
	StatusTerminated          Status = "terminated"
	StatusRejected            Status = "rejected"
)

var AllStatuses = []Status{
	StatusPending, StatusApproved, StatusAccepted, StatusPendingConfirmation,
	StatusCompleted, StatusTerminated, StatusRejected,
}

// ActiveStatuses are the statuses in which an application still occupies the
// student's single active slot.
var ActiveStatuses = []Status{
	StatusPending, StatusApproved, StatusAccepted, StatusPendingConfirmation,
}

func (s Status) IsValid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) Active() bool {
	for _, st := range ActiveStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTerminated || s == StatusRejected
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentVerified PaymentStatus = "verified"
	PaymentRejected PaymentStatus = "rejected"
)

// College is the application's college selection: either an id into the
// master list, or a free-text name backed by a temp record.
type College struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	TempRef string `json:"temp_ref,omitempty"`
}

type Application struct {
	ID             string  `json:"id"`
	CreatedBy      string  `json:"created_by"`
	Status         Status  `json:"status"`
	InternshipType string  `json:"internship_type"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	College        College `json:"college"`
	BloodGroup     string  `json:"blood_group,omitempty"`
	Phone          string  `json:"phone"`
	Address        string  `json:"address,omitempty"`

	CoverLetterRequested bool        `json:"cover_letter_requested"`
	CoverLetterURL       null.String `json:"cover_letter_url,omitempty"`

	PaymentReceiptNumber null.String   `json:"payment_receipt_number,omitempty"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	PaymentRejectReason  null.String   `json:"payment_reject_reason,omitempty"`
	PaymentVerifiedBy    null.String   `json:"payment_verified_by,omitempty"`
	PaymentVerifiedAt    null.Time     `json:"payment_verified_at,omitempty"`

	FinalConfirmationNumber  null.String `json:"final_confirmation_number,omitempty"`
	ConfirmationRejectReason null.String `json:"confirmation_reject_reason,omitempty"`
	ConfirmationSubmittedAt  null.Time   `json:"confirmation_submitted_at,omitempty"`

	ApprovedBy  null.String `json:"approved_by,omitempty"`
	ApprovedAt  null.Time   `json:"approved_at,omitempty"`
	RejectedBy  null.String `json:"rejected_by,omitempty"`
	RejectedAt  null.Time   `json:"rejected_at,omitempty"`
	CompletedBy null.String `json:"completed_by,omitempty"`
	CompletedAt null.Time   `json:"completed_at,omitempty"`

	FinishedStatus null.String `json:"finished_status,omitempty"`
	FinishedReason null.String `json:"finished_reason,omitempty"`
	FinishedBy     null.String `json:"finished_by,omitempty"`
	FinishedAt     null.Time   `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewApplication is the student submission payload. Exactly one of CollegeID
// (pick from the master list) or CollegeName (free text, creates a temp
// record) must be provided.
type NewApplication struct {
	InternshipType string `json:"internship_type" validate:"required"`
	StartDate      string `json:"start_date" validate:"required,date_"`
	EndDate        string `json:"end_date" validate:"required,date_"`
	CollegeID      string `json:"college_id"`
	CollegeName    string `json:"college_name" validate:"required_without=CollegeID"`
	CollegeAddress string `json:"college_address"`
	CollegePincode string `json:"college_pincode"`
	CollegeContact string `json:"college_contact"`
	BloodGroup     string `json:"blood_group"`
	Phone          string `json:"phone" validate:"required"`
	Address        string `json:"address"`
}

func (na *NewApplication) Validate(ctx context.Context, validate *validator.Validate) error {
	na.InternshipType = core.CleanString(na.InternshipType)
	na.CollegeID = core.CleanString(na.CollegeID)
	na.CollegeName = core.CleanString(na.CollegeName)
	na.CollegeAddress = core.CleanString(na.CollegeAddress)
	na.Phone = core.CleanString(na.Phone)
	na.Address = core.CleanString(na.Address)
	if err := validate.StructCtx(ctx, na); err != nil {
		return err
	}
	if na.CollegeID != "" && na.CollegeName != "" {
		return core.NewArgumentError("provide either college_id or college_name, not both")
	}
	return nil
}

// QueryFilter narrows application listings.
type QueryFilter struct {
	CreatedBy string `query:"created_by"`
	Status    string `query:"status"`
}
