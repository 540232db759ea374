package application

import (
	"github.com/volatiletech/null/v8"

	"github.com/mbalire/internhub/storage/document"
)

// toFields flattens a full application for creation. Unset optional fields
// are omitted rather than written as nulls.
func toFields(app Application) document.Fields {
	f := document.Fields{
		"createdBy":            app.CreatedBy,
		"status":               string(app.Status),
		"internshipType":       app.InternshipType,
		"startDate":            app.StartDate,
		"endDate":              app.EndDate,
		"bloodGroup":           app.BloodGroup,
		"phone":                app.Phone,
		"address":              app.Address,
		"coverLetterRequested": app.CoverLetterRequested,
		"createdAt":            app.CreatedAt,
		"updatedAt":            app.UpdatedAt,
	}
	if app.College.ID != "" {
		f["collegeId"] = app.College.ID
		f["collegeName"] = app.College.Name
	} else {
		f["collegeNameTemp"] = app.College.Name
		if app.College.TempRef != "" {
			f["collegeTempRef"] = app.College.TempRef
		}
	}
	if app.PaymentStatus != "" {
		f["paymentStatus"] = string(app.PaymentStatus)
	}
	putNullStr(f, "coverLetterUrl", app.CoverLetterURL)
	putNullStr(f, "paymentReceiptNumber", app.PaymentReceiptNumber)
	putNullStr(f, "paymentRejectReason", app.PaymentRejectReason)
	putNullStr(f, "paymentVerifiedBy", app.PaymentVerifiedBy)
	putNullTime(f, "paymentVerifiedAt", app.PaymentVerifiedAt)
	putNullStr(f, "finalConfirmationNumber", app.FinalConfirmationNumber)
	putNullStr(f, "confirmationRejectReason", app.ConfirmationRejectReason)
	putNullTime(f, "confirmationSubmittedAt", app.ConfirmationSubmittedAt)
	putNullStr(f, "approvedBy", app.ApprovedBy)
	putNullTime(f, "approvedAt", app.ApprovedAt)
	putNullStr(f, "rejectedBy", app.RejectedBy)
	putNullTime(f, "rejectedAt", app.RejectedAt)
	putNullStr(f, "completedBy", app.CompletedBy)
	putNullTime(f, "completedAt", app.CompletedAt)
	putNullStr(f, "finishedStatus", app.FinishedStatus)
	putNullStr(f, "finishedReason", app.FinishedReason)
	putNullStr(f, "finishedBy", app.FinishedBy)
	putNullTime(f, "finishedAt", app.FinishedAt)
	return f
}

func putNullStr(f document.Fields, key string, v null.String) {
	if v.Valid {
		f[key] = v.String
	}
}

func putNullTime(f document.Fields, key string, v null.Time) {
	if v.Valid {
		f[key] = v.Time
	}
}

func fromDoc(doc document.Document) Application {
	f := doc.Fields
	app := Application{
		ID:             doc.ID,
		CreatedBy:      f.String("createdBy"),
		Status:         Status(f.String("status")),
		InternshipType: f.String("internshipType"),
		StartDate:      f.String("startDate"),
		EndDate:        f.String("endDate"),
		BloodGroup:     f.String("bloodGroup"),
		Phone:          f.String("phone"),
		Address:        f.String("address"),

		CoverLetterRequested: f.Bool("coverLetterRequested"),
		CoverLetterURL:       nullStr(f, "coverLetterUrl"),

		PaymentReceiptNumber: nullStr(f, "paymentReceiptNumber"),
		PaymentStatus:        PaymentStatus(f.String("paymentStatus")),
		PaymentRejectReason:  nullStr(f, "paymentRejectReason"),
		PaymentVerifiedBy:    nullStr(f, "paymentVerifiedBy"),
		PaymentVerifiedAt:    nullTime(f, "paymentVerifiedAt"),

		FinalConfirmationNumber:  nullStr(f, "finalConfirmationNumber"),
		ConfirmationRejectReason: nullStr(f, "confirmationRejectReason"),
		ConfirmationSubmittedAt:  nullTime(f, "confirmationSubmittedAt"),

		ApprovedBy:  nullStr(f, "approvedBy"),
		ApprovedAt:  nullTime(f, "approvedAt"),
		RejectedBy:  nullStr(f, "rejectedBy"),
		RejectedAt:  nullTime(f, "rejectedAt"),
		CompletedBy: nullStr(f, "completedBy"),
		CompletedAt: nullTime(f, "completedAt"),

		FinishedStatus: nullStr(f, "finishedStatus"),
		FinishedReason: nullStr(f, "finishedReason"),
		FinishedBy:     nullStr(f, "finishedBy"),
		FinishedAt:     nullTime(f, "finishedAt"),
	}
	if id := f.String("collegeId"); id != "" {
		app.College = College{ID: id, Name: f.String("collegeName")}
	} else {
		app.College = College{Name: f.String("collegeNameTemp"), TempRef: f.String("collegeTempRef")}
	}
	if t, ok := f.Time("createdAt"); ok {
		app.CreatedAt = t
	}
	if t, ok := f.Time("updatedAt"); ok {
		app.UpdatedAt = t
	}
	return app
}

func nullStr(f document.Fields, key string) null.String {
	if !f.Has(key) {
		return null.String{}
	}
	return null.StringFrom(f.String(key))
}

func nullTime(f document.Fields, key string) null.Time {
	if t, ok := f.Time(key); ok {
		return null.TimeFrom(t)
	}
	return null.Time{}
}
