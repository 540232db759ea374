package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/application"
	"github.com/mbalire/internhub/core/college"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
)

type applicationApi struct {
	deps *Deps
}

func registerApplicationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := applicationApi{deps: deps}

	ag := g.Group("/applications", jwt)

	ag.POST("", api.submit, studentMiddleware())
	ag.GET("", api.query)
	ag.GET("/active", api.active, studentMiddleware())

	dg := ag.Group("/:id")
	dg.GET("", api.retrieve)

	// student actions
	dg.PUT("/payment-receipt", api.submitPaymentReceipt, studentMiddleware())
	dg.PUT("/confirmation-number", api.submitConfirmationNumber, studentMiddleware())
	dg.PUT("/cover-letter", api.uploadCoverLetter, studentMiddleware())

	// reviewer actions
	dg.PUT("/approve", api.approve, reviewerMiddleware())
	dg.PUT("/reject", api.reject, reviewerMiddleware())
	dg.PUT("/verify-payment", api.verifyPayment, reviewerMiddleware())
	dg.PUT("/reject-payment", api.rejectPayment, reviewerMiddleware())
	dg.PUT("/complete", api.complete, reviewerMiddleware())
	dg.PUT("/reject-confirmation", api.rejectConfirmation, reviewerMiddleware())
	dg.PUT("/request-cover-letter", api.requestCoverLetter, reviewerMiddleware())
	dg.PUT("/finish", api.finishTrainee, reviewerMiddleware())
}

// Handlers

// submit coordinates a student submission: an unknown college name first
// becomes a temp registry record, the student profile is synced with the
// submitted contact and college details, then the application itself is
// created.
func (api *applicationApi) submit(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	var data application.NewApplication
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewApplication")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.deps.Validate); err != nil {
		return err
	}

	// cheap pre-check; Submit re-checks inside its transaction
	if _, err := api.deps.ApplicationSvc.ActiveForStudent(rctx, actor.ID); err == nil {
		return application.ErrActiveApplication
	} else if !core.IsNotFoundError(err) {
		return errors.Wrap(err, "checking active application")
	}

	var tempRef string
	if data.CollegeID != "" {
		master, err := api.deps.CollegeSvc.GetMaster(rctx, data.CollegeID)
		if err != nil {
			if core.IsNotFoundError(err) {
				return core.NewValidationError(nil, core.FieldError{Field: "college_id", Error: "unknown college"})
			}
			return errors.Wrap(err, "finding master college")
		}
		data.CollegeName = master.Name
	} else {
		temp, err := api.deps.CollegeSvc.CreateTemp(rctx, college.NewTempCollege{
			Name:    data.CollegeName,
			Address: data.CollegeAddress,
			Pincode: data.CollegePincode,
			Contact: data.CollegeContact,
		}, actor.ID)
		if err != nil {
			return errors.Wrap(err, "creating temp college")
		}
		tempRef = temp.ID
		data.CollegeName = temp.Name
	}

	usr, err := api.deps.UserSvc.GetByID(rctx, actor.ID)
	if err != nil {
		return errors.Wrap(err, "finding user by ID")
	}
	profile := student.Profile{
		ID:         actor.ID,
		Name:       usr.Name,
		Email:      usr.Email,
		Phone:      data.Phone,
		Address:    data.Address,
		BloodGroup: data.BloodGroup,
	}
	if data.CollegeID != "" {
		profile.CollegeID = data.CollegeID
		profile.CollegeName = data.CollegeName
	} else {
		profile.CollegeNameTemp = data.CollegeName
		profile.CollegeTempRef = tempRef
	}
	if err := api.deps.StudentSvc.Upsert(rctx, profile); err != nil {
		return errors.Wrap(err, "upserting student profile")
	}

	app, err := api.deps.ApplicationSvc.Submit(rctx, actor, data, tempRef)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, app)
}

func (api *applicationApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	filter := new(application.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []application.Application{})
	}

	apps, err := api.deps.ApplicationSvc.Filter(ctx.Request().Context(), *filter, actor)
	if err != nil {
		return err
	}
	if apps == nil {
		apps = []application.Application{}
	}
	return ctx.JSON(http.StatusOK, apps)
}

func (api *applicationApi) active(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	app, err := api.deps.ApplicationSvc.ActiveForStudent(ctx.Request().Context(), actor.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, app)
}

func (api *applicationApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	app, err := api.deps.ApplicationSvc.GetByID(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, app)
}

func (api *applicationApi) approve(ctx echo.Context) error {
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.Approve(c.Request().Context(), c.Param("id"), actor)
	})
}

func (api *applicationApi) reject(ctx echo.Context) error {
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.Reject(c.Request().Context(), c.Param("id"), actor)
	})
}

func (api *applicationApi) submitPaymentReceipt(ctx echo.Context) error {
	var data ReceiptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReceiptRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.SubmitPaymentReceipt(c.Request().Context(), c.Param("id"), data.ReceiptNumber, actor)
	})
}

func (api *applicationApi) verifyPayment(ctx echo.Context) error {
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.VerifyPayment(c.Request().Context(), c.Param("id"), actor)
	})
}

func (api *applicationApi) rejectPayment(ctx echo.Context) error {
	var data ReasonRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReasonRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.RejectPayment(c.Request().Context(), c.Param("id"), data.Reason, actor)
	})
}

func (api *applicationApi) submitConfirmationNumber(ctx echo.Context) error {
	var data ConfirmationRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConfirmationRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.SubmitConfirmationNumber(c.Request().Context(), c.Param("id"), data.ConfirmationNumber, actor)
	})
}

func (api *applicationApi) complete(ctx echo.Context) error {
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.CompleteInternship(c.Request().Context(), c.Param("id"), actor)
	})
}

func (api *applicationApi) rejectConfirmation(ctx echo.Context) error {
	var data ReasonRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReasonRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.RejectConfirmation(c.Request().Context(), c.Param("id"), data.Reason, actor)
	})
}

func (api *applicationApi) requestCoverLetter(ctx echo.Context) error {
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.RequestCoverLetter(c.Request().Context(), c.Param("id"), actor)
	})
}

func (api *applicationApi) uploadCoverLetter(ctx echo.Context) error {
	var data CoverLetterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CoverLetterRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.UploadCoverLetter(c.Request().Context(), c.Param("id"), data.URL, actor)
	})
}

func (api *applicationApi) finishTrainee(ctx echo.Context) error {
	var data FinishRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FinishRequest")
	}
	return api.transition(ctx, func(c echo.Context, actor user.Actor) (application.Application, error) {
		return api.deps.ApplicationSvc.FinishTrainee(
			c.Request().Context(), c.Param("id"), application.Status(data.Status), data.Reason, actor)
	})
}

// transition factors the actor lookup and response shape shared by all the
// lifecycle action handlers.
func (api *applicationApi) transition(
	ctx echo.Context,
	run func(echo.Context, user.Actor) (application.Application, error),
) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	app, err := run(ctx, actor)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, app)
}

type (
	ReceiptRequest struct {
		ReceiptNumber string `json:"receipt_number"`
	}

	ConfirmationRequest struct {
		ConfirmationNumber string `json:"confirmation_number"`
	}

	ReasonRequest struct {
		Reason string `json:"reason"`
	}

	CoverLetterRequest struct {
		URL string `json:"url"`
	}

	FinishRequest struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
)
