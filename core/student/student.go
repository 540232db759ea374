// Package student holds the student profile record: contact details plus the
// college linkage fields rewritten by the college registry when a temp
// college is promoted.
package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/storage/document"
)

const Collection = "students"

var ErrNotFound = core.NewNotFoundError("student profile not found")

// Profile is keyed by the owning user's id.
type Profile struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Address         string    `json:"address,omitempty"`
	BloodGroup      string    `json:"blood_group,omitempty"`
	CollegeID       string    `json:"college_id,omitempty"`
	CollegeName     string    `json:"college_name,omitempty"`
	CollegeNameTemp string    `json:"college_name_temp,omitempty"`
	CollegeTempRef  string    `json:"college_temp_ref,omitempty"`
	HandledBy       string    `json:"handled_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Service struct {
	store document.Store
}

func NewService(store document.Store) *Service {
	return &Service{store: store}
}

// Upsert writes the profile under the user's id, creating it if absent.
// College linkage fields are set as a unit: selecting a master college clears
// any pending temp linkage and vice versa.
func (svc *Service) Upsert(ctx context.Context, p Profile) error {
	fields := document.Fields{
		"name":       p.Name,
		"email":      p.Email,
		"phone":      p.Phone,
		"address":    p.Address,
		"bloodGroup": p.BloodGroup,
		"updatedAt":  document.ServerTimestamp,
	}
	clear := func(keys ...string) {
		for _, k := range keys {
			fields[k] = document.DeleteField
		}
	}
	if p.CollegeID != "" {
		fields["collegeId"] = p.CollegeID
		fields["collegeName"] = p.CollegeName
		clear("collegeNameTemp", "collegeTempRef")
	} else if p.CollegeNameTemp != "" {
		fields["collegeNameTemp"] = p.CollegeNameTemp
		fields["collegeTempRef"] = p.CollegeTempRef
		clear("collegeId", "collegeName")
	}

	err := svc.store.Update(ctx, Collection, p.ID, fields)
	if errors.Cause(err) == document.ErrNotFound {
		for k, v := range fields {
			if v == document.DeleteField {
				delete(fields, k)
			}
		}
		fields["createdAt"] = document.ServerTimestamp
		_, err = svc.store.Create(ctx, Collection, p.ID, fields)
	}
	if err != nil {
		return core.NewUnavailableError(err)
	}
	return nil
}

func (svc *Service) GetByUserID(ctx context.Context, userID string) (Profile, error) {
	doc, err := svc.store.Get(ctx, Collection, userID)
	if err != nil {
		if errors.Cause(err) == document.ErrNotFound {
			return Profile{}, ErrNotFound
		}
		return Profile{}, core.NewUnavailableError(err)
	}
	return fromDoc(doc), nil
}

// ListByTempCollegeName returns profiles still pointing at an unresolved temp
// college by name.
func (svc *Service) ListByTempCollegeName(ctx context.Context, name string) ([]Profile, error) {
	docs, err := svc.store.Query(ctx, Collection, document.Query{
		Filters: []document.Filter{document.Where("collegeNameTemp", name)},
	})
	if err != nil {
		return nil, core.NewUnavailableError(err)
	}
	profiles := make([]Profile, 0, len(docs))
	for _, doc := range docs {
		profiles = append(profiles, fromDoc(doc))
	}
	return profiles, nil
}

func fromDoc(doc document.Document) Profile {
	f := doc.Fields
	p := Profile{
		ID:              doc.ID,
		Name:            f.String("name"),
		Email:           f.String("email"),
		Phone:           f.String("phone"),
		Address:         f.String("address"),
		BloodGroup:      f.String("bloodGroup"),
		CollegeID:       f.String("collegeId"),
		CollegeName:     f.String("collegeName"),
		CollegeNameTemp: f.String("collegeNameTemp"),
		CollegeTempRef:  f.String("collegeTempRef"),
		HandledBy:       f.String("handledBy"),
	}
	if t, ok := f.Time("createdAt"); ok {
		p.CreatedAt = t
	}
	if t, ok := f.Time("updatedAt"); ok {
		p.UpdatedAt = t
	}
	return p
}
