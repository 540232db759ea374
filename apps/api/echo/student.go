package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type studentApi struct {
	deps *Deps
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := studentApi{deps: deps}

	sg := g.Group("/students", jwt)
	sg.GET("/me", api.me, studentMiddleware())
	sg.GET("/:id", api.retrieve, reviewerMiddleware())
}

func (api *studentApi) me(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	profile, err := api.deps.StudentSvc.GetByUserID(ctx.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	profile, err := api.deps.StudentSvc.GetByUserID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}
