package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/mbalire/internhub/apps/api/echo"
	"github.com/mbalire/internhub/core"
	"github.com/mbalire/internhub/core/application"
	"github.com/mbalire/internhub/core/college"
	"github.com/mbalire/internhub/core/student"
	"github.com/mbalire/internhub/core/user"
	emailsvc "github.com/mbalire/internhub/services/email"
	logsvc "github.com/mbalire/internhub/services/logger"
	"github.com/mbalire/internhub/storage/document"
	"github.com/mbalire/internhub/storage/document/inmem"
	pgdoc "github.com/mbalire/internhub/storage/document/postgres"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up logger
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	var logger core.Logger
	if conf.Debug || conf.RollbarToken == "" {
		logger = logsvc.NewConsoleLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	// set up document store
	store, cleanup, err := setUpStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up store: %v", err), err)
	}
	defer cleanup(logger)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	usrSvc := user.NewService(store, mailSvc, conf)
	stuSvc := student.NewService(store)
	appSvc := application.NewService(store, usrSvc, mailSvc)
	colSvc := college.NewService(store)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	server := echoapi.NewServer(conf.Server.Address(), shutdown, &echoapi.Deps{
		Logger:         logger,
		UserSvc:        usrSvc,
		StudentSvc:     stuSvc,
		ApplicationSvc: appSvc,
		CollegeSvc:     colSvc,
		Validate:       validate,
		Translator:     translator,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func setUpStore(conf *core.Config) (document.Store, func(core.Logger), error) {
	noop := func(core.Logger) {}

	if conf.Database.Engine == "inmem" {
		return inmem.Open(), noop, nil
	}

	if err := pgdoc.CreateIfNotExist(conf); err != nil {
		return nil, noop, err
	}
	db, err := pgdoc.Open(conf)
	if err != nil {
		return nil, noop, err
	}
	if err = pgdoc.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, noop, err
	}

	cleanup := func(logger core.Logger) {
		if err := db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}
	return pgdoc.NewStore(db), cleanup, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
