package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/application"
	"github.com/mbalire/internhub/core/college"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
)

type (
	// Deps carries the services and tooling the API handlers depend on.
	Deps struct {
		Logger         core.Logger
		UserSvc        *user.Service
		StudentSvc     *student.Service
		ApplicationSvc *application.Service
		CollegeSvc     *college.Service
		Validate       *validator.Validate
		Translator     ut.Translator
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		addr     string
		shutdown chan<- os.Signal
		deps     *Deps
		app      *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(addr string, shutdown chan<- os.Signal, deps *Deps) Server {
	s := &server{
		addr:     addr,
		shutdown: shutdown,
		deps:     deps,
		app:      echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !core.Conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig())

	registerUserAPI(v1, jwt, s.deps)
	registerStudentAPI(v1, jwt, s.deps)
	registerApplicationAPI(v1, jwt, s.deps)
	registerCollegeAPI(v1, jwt, s.deps)
}

func (s *server) signalShutdown() {
	if s.shutdown != nil {
		s.shutdown <- syscall.SIGTERM
	}
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.addr))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+core.Conf.AppName+" API!")
}
