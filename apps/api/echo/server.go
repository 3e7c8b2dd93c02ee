package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/lesson"
	"github.com/trezcool/muziki/core/material"
	"github.com/trezcool/muziki/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool

		UserSvc     *user.Service
		LessonSvc   *lesson.Service
		MaterialSvc *material.Service
		Logger      core.Logger

		// ShutdownChan receives a signal when a shutdown error is caught.
		ShutdownChan chan<- struct{}
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.signalShutdown)
	s.app.Debug = core.Conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	appJWTConfig.SigningKey = core.Conf.SecretKey
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.opts.UserSvc)
	registerLessonAPI(v1, jwt, s.opts.LessonSvc, s.opts.UserSvc)
	registerMaterialAPI(v1, jwt, s.opts.MaterialSvc, s.opts.UserSvc)
}

func (s *server) signalShutdown() {
	if s.opts.ShutdownChan != nil {
		s.opts.ShutdownChan <- struct{}{}
	}
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Muziki API!")
}
