package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/muziki/apps/api/echo"
	"github.com/trezcool/muziki/core"
	"github.com/trezcool/muziki/core/lesson"
	"github.com/trezcool/muziki/core/material"
	"github.com/trezcool/muziki/core/user"
	emailsvc "github.com/trezcool/muziki/services/email"
	logsvc "github.com/trezcool/muziki/services/logger"
	"github.com/trezcool/muziki/storage/database"
	sqlxrepos "github.com/trezcool/muziki/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	workDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("getting working directory: %v", err)
	}
	core.Conf = core.NewConfig(workDir)

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		core.Conf,
	)
	logger.Enable(!core.Conf.Debug)

	db, err := setUpDB(core.Conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, logger)
	lessonSvc := lesson.NewService(sqlxrepos.NewLessonRepository(db), usrSvc, logger)
	materialSvc := material.NewService(sqlxrepos.NewMaterialRepository(db), usrSvc, logger)

	// =========================================================================
	// Start API Service

	logger.Info("Application initializing : env " + core.Conf.Env)
	defer logger.Info("Application stopped")

	shutdownChan := make(chan struct{}, 1)
	server := echoapi.NewServer(&echoapi.Options{
		Address:      fmt.Sprintf("%s:%d", core.Conf.Server.Host, core.Conf.Server.Port),
		UserSvc:      usrSvc,
		LessonSvc:    lessonSvc,
		MaterialSvc:  materialSvc,
		Logger:       logger,
		ShutdownChan: shutdownChan,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serverErrors:
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case <-shutdownChan:
		logger.Info("integrity issue: shutting down...")
		stop(server, logger)

	case sig := <-quit:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stop(server, logger)
	}
}

func stop(server echoapi.Server, logger core.Logger) {
	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		return nil, err
	}
	return db, nil
}
