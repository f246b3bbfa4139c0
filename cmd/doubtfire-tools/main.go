package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/doubtfire-lms/doubtfire-go/internal/config"
	"github.com/doubtfire-lms/doubtfire-go/internal/convert"
	"github.com/doubtfire-lms/doubtfire-go/internal/eventbus"
	"github.com/doubtfire-lms/doubtfire-go/internal/pdftool"
	"github.com/doubtfire-lms/doubtfire-go/internal/portfolio"
	"github.com/doubtfire-lms/doubtfire-go/internal/project"
	projectrepo "github.com/doubtfire-lms/doubtfire-go/internal/project/repositoryimpl"
	"github.com/doubtfire-lms/doubtfire-go/internal/task"
	taskrepo "github.com/doubtfire-lms/doubtfire-go/internal/task/repositoryimpl"
	"github.com/doubtfire-lms/doubtfire-go/internal/upload"
	"github.com/doubtfire-lms/doubtfire-go/pkg/clog"
	"github.com/doubtfire-lms/doubtfire-go/pkg/storage"
)

var (
	app = kingpin.New("doubtfire-tools", "Operational tools for the submission pipeline.")

	check      = app.Command("check", "Check PDFs for structural validity.")
	checkFiles = check.Arg("files", "PDF files to check.").Required().ExistingFiles()

	compress     = app.Command("compress", "Compress a PDF in place.")
	compressFile = compress.Arg("file", "PDF file to compress.").Required().ExistingFile()

	compileSubmission     = app.Command("compile-submission", "Compile one task's staged uploads into its evidence PDF.")
	compileSubmissionTask = compileSubmission.Arg("task-id", "Task to compile.").Required().String()

	compilePortfolio        = app.Command("compile-portfolio", "Compile one student's portfolio.")
	compilePortfolioProject = compilePortfolio.Arg("project-id", "Project to compile.").Required().String()

	compileUnit   = app.Command("compile-unit", "Compile every portfolio in a unit.")
	compileUnitID = compileUnit.Arg("unit-id", "Unit to compile.").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		kingpin.Fatalf("failed to load env: %v", err)
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(
		clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(env.SlogLevel())))))

	ctx := context.Background()

	tools, err := pdftool.New(config.ToolsEnvFromEnv(env))
	if err != nil {
		kingpin.Fatalf("failed to configure pdf tools: %v", err)
	}

	switch command {
	case check.FullCommand():
		ok := true
		for _, f := range *checkFiles {
			if tools.IsValid(ctx, f) {
				fmt.Printf("%s: ok\n", f)
			} else {
				fmt.Printf("%s: INVALID\n", f)
				ok = false
			}
		}
		if !ok {
			os.Exit(1)
		}

	case compress.FullCommand():
		if err := tools.Compress(ctx, *compressFile); err != nil {
			kingpin.Fatalf("failed to compress: %v", err)
		}

	case compileSubmission.FullCommand():
		compiler := newCompiler(ctx, env, tools)
		result, err := compiler.CompileSubmission(ctx, *compileSubmissionTask)
		if err != nil {
			kingpin.Fatalf("failed to compile submission: %v", err)
		}
		fmt.Println(result.EvidencePath)
		if len(result.FailedIndexes) > 0 {
			fmt.Fprintf(os.Stderr, "warning: %d staged file(s) failed to convert\n", len(result.FailedIndexes))
		}

	case compilePortfolio.FullCommand():
		compiler := newCompiler(ctx, env, tools)
		path, err := compiler.CompilePortfolio(ctx, *compilePortfolioProject)
		if err != nil {
			kingpin.Fatalf("failed to compile portfolio: %v", err)
		}
		fmt.Println(path)

	case compileUnit.FullCommand():
		compiler := newCompiler(ctx, env, tools)
		if err := compiler.CompileAll(ctx, *compileUnitID); err != nil {
			kingpin.Fatalf("failed to compile unit: %v", err)
		}
	}
}

func newCompiler(ctx context.Context, env *config.Env, tools *pdftool.Tools) *portfolio.Compiler {
	var store storage.Storage
	var err error
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
	}
	if err != nil {
		kingpin.Fatalf("failed to create storage: %v", err)
	}

	work, err := upload.NewWorkdir(env.WorkEnv.WorkDir)
	if err != nil {
		kingpin.Fatalf("failed to create work dir: %v", err)
	}

	bus := eventbus.New()
	taskRepo := taskrepo.NewYAMLRepository(store)
	defRepo := taskrepo.NewYAMLDefinitionRepository(store)
	projectRepo := projectrepo.NewYAMLRepository(store)
	projectService := project.NewService(projectRepo, taskRepo, defRepo)
	lifecycle := task.NewLifecycle(taskRepo, projectService, bus)
	converter := convert.NewConverter(tools)

	return portfolio.NewCompiler(taskRepo, defRepo, projectRepo, lifecycle, converter, tools, work, bus)
}
