package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core/college"
)

type collegeApi struct {
	deps *Deps
}

func registerCollegeAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := collegeApi{deps: deps}

	cg := g.Group("/colleges", jwt)

	cg.GET("", api.searchMaster)

	// temp registry; admins only
	tg := cg.Group("/temp", adminMiddleware())
	tg.GET("", api.listTemp)
	tg.GET("/:id", api.getTemp)
	tg.PUT("/:id", api.saveTemp)
	tg.POST("/:id/promote", api.promote)
	tg.POST("/:id/resume-fanout", api.resumeFanOut)

	cg.GET("/:id", api.getMaster)
}

// Handlers

func (api *collegeApi) searchMaster(ctx echo.Context) error {
	colleges, err := api.deps.CollegeSvc.SearchMaster(ctx.Request().Context(), ctx.QueryParam("q"))
	if err != nil {
		return err
	}
	if colleges == nil {
		colleges = []college.MasterCollege{}
	}
	return ctx.JSON(http.StatusOK, colleges)
}

func (api *collegeApi) getMaster(ctx echo.Context) error {
	master, err := api.deps.CollegeSvc.GetMaster(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, master)
}

func (api *collegeApi) listTemp(ctx echo.Context) error {
	var resolved *bool
	if v := ctx.QueryParam("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid resolved filter")
		}
		resolved = &b
	}

	temps, err := api.deps.CollegeSvc.ListTemp(ctx.Request().Context(), resolved)
	if err != nil {
		return err
	}
	if temps == nil {
		temps = []college.TempCollege{}
	}
	return ctx.JSON(http.StatusOK, temps)
}

func (api *collegeApi) getTemp(ctx echo.Context) error {
	temp, err := api.deps.CollegeSvc.GetTemp(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, temp)
}

func (api *collegeApi) saveTemp(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	var data college.UpdateTempCollege
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTempCollege")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.deps.Validate); err != nil {
		return err
	}

	temp, err := api.deps.CollegeSvc.SaveTemp(rctx, ctx.Param("id"), data, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, temp)
}

// promote resolves a temp record into the master list. A failed fan-out still
// returns the promotion result; the remaining student records are picked up
// by resume-fanout.
func (api *collegeApi) promote(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	res, err := api.deps.CollegeSvc.Promote(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		if res.MasterID == "" {
			return err
		}
		api.deps.Logger.Error("college fan-out incomplete", errors.Wrap(err, "promoting temp college"), actor)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *collegeApi) resumeFanOut(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	res, err := api.deps.CollegeSvc.ResumeFanOut(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		if res.MasterID == "" {
			return err
		}
		api.deps.Logger.Error("college fan-out incomplete", errors.Wrap(err, "resuming fan-out"), actor)
	}
	return ctx.JSON(http.StatusOK, res)
}
