package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doubtfire-lms/doubtfire-go/internal/config"
	"github.com/doubtfire-lms/doubtfire-go/internal/convert"
	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/internal/pdftool"
	"github.com/doubtfire-lms/doubtfire-go/internal/portfolio"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	projectrepo "github.com/doubtfire-lms/doubtfire-go/internal/project/repositoryimpl"
	"github.com/doubtfire-lms/doubtfire-go/internal/pushnotification"
	pushsubrepo "github.com/doubtfire-lms/doubtfire-go/internal/pushsubscription/repositoryimpl"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	taskrepo "github.com/doubtfire-lms/doubtfire-go/internal/task/repositoryimpl"
	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
	"github.com/doubtfire-lms/doubtfire-go/pkg/clog"
	"github.com/doubtfire-lms/doubtfire-go/pkg/storage"

	server "github.com/doubtfire-lms/doubtfire-go/internal"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	defRepo := taskrepo.NewYAMLDefinitionRepository(store)
	projectRepo := projectrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup domain services
	projectService := project.NewService(projectRepo, taskRepo, defRepo)
	lifecycle := task.NewLifecycle(taskRepo, projectService, bus)

	// Setup the file pipeline
	work, err := upload.NewWorkdir(env.WorkEnv.WorkDir)
	if err != nil {
		slog.Error("failed to create work dir", "error", err)
		os.Exit(1)
	}
	tools, err := pdftool.New(config.ToolsEnvFromEnv(env))
	if err != nil {
		slog.Error("failed to configure pdf tools", "error", err)
		os.Exit(1)
	}
	validator := upload.NewValidator(tools)
	converter := convert.NewConverter(tools)
	compiler := portfolio.NewCompiler(taskRepo, defRepo, projectRepo, lifecycle, converter, tools, work, bus)
	watcher := portfolio.NewWatcher(compiler, work)

	// Setup push notification
	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubRepo)
	pushNotificationServer := pushnotification.NewServer(vapidEnv, pushSubRepo, pushSender)
	pushDispatcher := pushnotification.NewDispatcher(bus, taskRepo, projectRepo, pushSender)

	// Setup servers
	taskServer := task.NewServer(taskRepo, lifecycle)
	projectServer := project.NewServer(projectRepo, projectService)
	portfolioServer := portfolio.NewServer(taskRepo, defRepo, projectRepo, lifecycle, validator, compiler, work)

	srv := server.NewServer(env, taskServer, projectServer, portfolioServer, pushNotificationServer)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go pushDispatcher.Start(ctx)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("watcher error", "error", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
