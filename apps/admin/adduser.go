package main

import (
	"context"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, email, pwd, role string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		_, err = cli.usrSvc.Create(ctx, user.NewUser{
			Name:            name,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Role:            role,
		})
		return err
	}

	active := true
	_, err = cli.usrSvc.Update(ctx, usr.ID, user.UpdateUser{
		Name:            name,
		Email:           email,
		IsActive:        &active,
		Role:            role,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	return err
}
