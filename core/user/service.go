package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/storage/document"
)

var (
	ErrNotFound    = core.NewNotFoundError("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")
)

type Service struct {
	store   document.Store
	mailSvc core.EmailService
	conf    *core.Config
}

func NewService(store document.Store, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{store: store, mailSvc: mailSvc, conf: conf}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Email:     nu.Email,
		Role:      nu.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	err := svc.store.RunTransaction(ctx, func(tx document.Tx) error {
		existing, err := tx.Query(Collection, document.Query{
			Filters: []document.Filter{document.Where("email", usr.Email)},
			Limit:   1,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		id, err := tx.Create(Collection, "", toFields(usr))
		usr.ID = id
		return err
	})
	if err != nil {
		return User{}, err
	}
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	doc, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Cause(err) == document.ErrNotFound {
			return User{}, ErrNotFound
		}
		return User{}, core.NewUnavailableError(err)
	}
	return fromDoc(doc), nil
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	docs, err := svc.store.Query(ctx, Collection, document.Query{
		Filters: []document.Filter{document.Where("email", email)},
		Limit:   1,
	})
	if err != nil {
		return User{}, core.NewUnavailableError(err)
	}
	if len(docs) == 0 {
		return User{}, ErrNotFound
	}
	return fromDoc(docs[0]), nil
}

func (svc *Service) QueryAll(ctx context.Context) ([]User, error) {
	return svc.Filter(ctx, QueryFilter{})
}

// Filter applies AND on available QueryFilter fields.
// QueryFilter.Search does a case-insensitive match on one of Name or Email.
func (svc *Service) Filter(ctx context.Context, qf QueryFilter) ([]User, error) {
	qf.Clean()

	q := document.Query{OrderBy: "createdAt", Descending: true}
	if qf.Role != "" {
		q.Filters = append(q.Filters, document.Where("role", qf.Role))
	}
	docs, err := svc.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, core.NewUnavailableError(err)
	}

	users := make([]User, 0, len(docs))
	search := strings.ToLower(qf.Search)
	for _, doc := range docs {
		usr := fromDoc(doc)
		if qf.IsActive != nil && usr.IsActive != *qf.IsActive {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(usr.Name), search) &&
			!strings.Contains(usr.Email, search) {
			continue
		}
		users = append(users, usr)
	}
	return users, nil
}

func (svc *Service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	changes := document.Fields{
		"name":      uu.Name,
		"email":     uu.Email,
		"updatedAt": document.ServerTimestamp,
	}
	if uu.Role != "" {
		changes["role"] = uu.Role
	}
	if uu.IsActive != nil {
		changes["isActive"] = *uu.IsActive
	}
	if uu.Password != "" {
		var usr User
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
		changes["passwordHash"] = string(usr.PasswordHash)
	}

	if err := svc.store.Update(ctx, Collection, id, changes); err != nil {
		if errors.Cause(err) == document.ErrNotFound {
			return User{}, ErrNotFound
		}
		return User{}, core.NewUnavailableError(err)
	}
	return svc.GetByID(ctx, id)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	err := svc.store.Update(ctx, Collection, usr.ID, document.Fields{"lastLogin": usr.LastLogin})
	return usr, err
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	ops := make([]document.WriteOp, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, document.DeleteOp(Collection, id))
	}
	return svc.store.BatchWrite(ctx, ops)
}

func (svc *Service) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	for _, excl := range excludedUsers {
		if usr.ID == excl.ID {
			return nil
		}
	}
	return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
}

// RequestPasswordReset emails a password reset link to the user if an account
// with that email exists; it reveals nothing otherwise.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}

	token, err := MakeToken(usr)
	if err != nil {
		return errors.Wrap(err, "generating reset token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Name  string
			UID   string
			Token string
		}{usr.Name, EncodeUID(usr), token},
	})
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewArgumentError("invalid uid")
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	return svc.store.Update(ctx, Collection, usr.ID, document.Fields{
		"passwordHash": string(usr.PasswordHash),
		"updatedAt":    document.ServerTimestamp,
	})
}

// document codec

func toFields(usr User) document.Fields {
	return document.Fields{
		"name":          usr.Name,
		"email":         usr.Email,
		"role":          usr.Role,
		"isActive":      usr.IsActive,
		"emailVerified": usr.EmailVerified,
		"passwordHash":  string(usr.PasswordHash),
		"lastLogin":     usr.LastLogin,
		"createdAt":     usr.CreatedAt,
		"updatedAt":     usr.UpdatedAt,
	}
}

func fromDoc(doc document.Document) User {
	f := doc.Fields
	usr := User{
		ID:            doc.ID,
		Name:          f.String("name"),
		Email:         f.String("email"),
		Role:          f.String("role"),
		IsActive:      f.Bool("isActive"),
		EmailVerified: f.Bool("emailVerified"),
		PasswordHash:  []byte(f.String("passwordHash")),
	}
	if t, ok := f.Time("lastLogin"); ok {
		usr.LastLogin = t
	}
	if t, ok := f.Time("createdAt"); ok {
		usr.CreatedAt = t
	}
	if t, ok := f.Time("updatedAt"); ok {
		usr.UpdatedAt = t
	}
	return usr
}
