package testutil

import (
	"context"
	"testing"

	"github.com/mbalire/internhub/core/application"
	"github.com/mbalire/internhub/core/user"
)

func CreateUser(
	t *testing.T,
	svc *user.Service,
	name, email, pwd, role string,
	isActive bool,
) user.User {
	t.Helper()
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name:            name,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Role:            role,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	if !isActive {
		usr, err = svc.Update(ctx, usr.ID, user.UpdateUser{Name: name, Email: email, IsActive: &isActive})
		if err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	return usr
}

func SubmitApplication(
	t *testing.T,
	svc *application.Service,
	actor user.Actor,
	collegeName, tempRef string,
) application.Application {
	t.Helper()

	app, err := svc.Submit(context.Background(), actor, application.NewApplication{
		InternshipType: "software",
		StartDate:      "2021-06-01",
		EndDate:        "2021-08-31",
		CollegeName:    collegeName,
		Phone:          "0700000000",
	}, tempRef)
	if err != nil {
		t.Fatalf("SubmitApplication() failed: %v", err)
	}
	return app
}
