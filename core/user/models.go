package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/mbalire/internhub/core"
)

// Collection is the document collection holding user profiles.
const Collection = "users"

// Roles
const (
	RoleStudent    = "student"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

var AllRoles = []string{RoleStudent, RoleSupervisor, RoleAdmin}

func IsValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsReviewer reports whether the role may act on applications.
func IsReviewer(role string) bool {
	return role == RoleSupervisor || role == RoleAdmin
}

// Actor is the explicit identity every core operation receives.
// It is resolved at the boundary (JWT claims, CLI flags); core services never
// read identity from ambient state.
type Actor struct {
	ID            string
	Role          string
	EmailVerified bool
}

func (a Actor) IsStudent() bool    { return a.Role == RoleStudent }
func (a Actor) IsSupervisor() bool { return a.Role == RoleSupervisor }
func (a Actor) IsAdmin() bool      { return a.Role == RoleAdmin }
func (a Actor) IsReviewer() bool   { return IsReviewer(a.Role) }

type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	PasswordHash  []byte    `json:"-"`
	LastLogin     time.Time `json:"last_login"` // UTC
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsAdmin() bool      { return u.Role == RoleAdmin }
func (u User) IsSupervisor() bool { return u.Role == RoleSupervisor }
func (u User) IsStudent() bool    { return u.Role == RoleStudent }
func (u User) IsReviewer() bool   { return IsReviewer(u.Role) }

func (u User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role, EmailVerified: u.EmailVerified}
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"required,oneof=student supervisor admin"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string `json:"name"`
	Email           string `json:"email" validate:"omitempty,email"`
	IsActive        *bool  `json:"is_active"`
	Role            string `json:"role" validate:"omitempty,oneof=student supervisor admin"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, validate *validator.Validate, origUsr User, svc *Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

type QueryFilter struct {
	Search   string `query:"search"`
	Role     string `query:"role"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Role == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
}
