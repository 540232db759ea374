package college

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mbalire/internhub/core"
)

const (
	TempCollection   = "colleges_temp"
	MasterCollection = "colleges_master"
)

// NormalizeName builds the dedup lookup key for a college name. The rule is
// deliberately loose: lowercase after trimming, no punctuation or inner
// whitespace normalization.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TempCollege is a candidate institution submitted inline by a student whose
// college is missing from the master list. It is mutated exactly once, by
// Promote, and never again.
type TempCollege struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	Pincode     string    `json:"pincode,omitempty"`
	Contact     string    `json:"contact,omitempty"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
	Resolved    bool      `json:"resolved"`
	ResolvedBy  string    `json:"resolved_by,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
	LinkedTo    string    `json:"linked_to,omitempty"`
}

// MasterCollege is a canonical institution entry. At most one exists per
// normalized name.
type MasterCollege struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NameLower string    `json:"-"`
	Address   string    `json:"address,omitempty"`
	Email     string    `json:"email,omitempty"`
	Contact   string    `json:"contact,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PromoteStatus reports how a temp record was resolved.
type PromoteStatus string

const (
	StatusPromoted         PromoteStatus = "promoted"
	StatusLinkedToExisting PromoteStatus = "linked_to_existing"
)

// PromoteResult is returned by Promote. Updated counts the student records
// rewritten by the fan-out and is a lower bound when the fan-out fails
// partway; ResumeFanOut picks up the remainder.
type PromoteResult struct {
	Name     string        `json:"name"`
	MasterID string        `json:"master_id"`
	Status   PromoteStatus `json:"status"`
	Updated  int           `json:"updated"`
}

// NewTempCollege is the submission payload for an unknown college.
type NewTempCollege struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
	Contact string `json:"contact"`
}

func (nt *NewTempCollege) Validate(ctx context.Context, validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Address = core.CleanString(nt.Address)
	nt.Pincode = core.CleanString(nt.Pincode)
	nt.Contact = core.CleanString(nt.Contact)
	return validate.StructCtx(ctx, nt)
}

// UpdateTempCollege edits an unresolved temp record before promotion.
type UpdateTempCollege struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
	Contact string `json:"contact"`
}

func (ut *UpdateTempCollege) Validate(ctx context.Context, validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	ut.Address = core.CleanString(ut.Address)
	ut.Pincode = core.CleanString(ut.Pincode)
	ut.Contact = core.CleanString(ut.Contact)
	return validate.StructCtx(ctx, ut)
}
