package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/audit"
	"github.com/amitjoshi/expenseflow/internal/config"
	"github.com/amitjoshi/expenseflow/internal/directory"
	"github.com/amitjoshi/expenseflow/internal/dispatcher"
	"github.com/amitjoshi/expenseflow/internal/engine"
	httpadapter "github.com/amitjoshi/expenseflow/internal/interfaces/http"
	"github.com/amitjoshi/expenseflow/internal/notification"
	"github.com/amitjoshi/expenseflow/internal/report"
	"github.com/amitjoshi/expenseflow/internal/repository"
	"github.com/amitjoshi/expenseflow/pkg/database"
	"github.com/amitjoshi/expenseflow/pkg/utils"
)

func main() {
	// Load .env before viper reads the environment.
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting expense approval workflow service",
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll("data", 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Repositories
	expenseRepo := repository.NewExpenseRepository(db, logger)
	workflowRepo := repository.NewWorkflowRepository(db, logger)
	taskRepo := repository.NewTaskRepository(db, logger)
	userRepo := repository.NewUserRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db, logger)

	// Event dispatcher with its subscribers
	events := dispatcher.New(logger)
	notification.New(logger).Register(events)
	audit.NewRecorder(auditRepo, logger).Register(events)

	// Approval engine
	dir := directory.New(userRepo, logger)
	ledger := engine.NewLedger(taskRepo, logger)
	sequencer := engine.NewSequencer(dir, cfg.Engine.DirectoryTimeout, logger)
	coordinator := engine.NewCoordinator(expenseRepo, workflowRepo, ledger, sequencer, db, events, logger)

	exporter, err := report.NewExporter(report.Config{
		OutputDir:   cfg.Report.OutputDir,
		CompanyName: cfg.Report.CompanyName,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize report exporter", zap.Error(err))
	}

	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, coordinator, exporter, utils.NewKVLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	// Let in-flight async event handlers finish before exit.
	if err := events.Close(); err != nil {
		logger.Error("Failed to close event dispatcher", zap.Error(err))
	}

	logger.Info("Service stopped")
}
