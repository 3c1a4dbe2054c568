// cmd/bentokaze/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bentokaze/internal/config"
	"bentokaze/internal/export"
	"bentokaze/internal/logging"
	"bentokaze/internal/metrics"
	"bentokaze/internal/optimizer"
	"bentokaze/internal/report"
	"bentokaze/internal/server"
	"bentokaze/internal/solver"
	"bentokaze/internal/storage"
)

// app holds what every subcommand needs once the config is loaded.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

func newRootCommand() *cobra.Command {
	var configPath string
	a := &app{}

	root := &cobra.Command{
		Use:           "bentokaze",
		Short:         "Find the cheapest bento that meets a set of nutrition targets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			a.metrics = metrics.NewCollector()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")

	root.AddCommand(
		a.importCommand(),
		a.optimizeCommand(),
		a.exportCommand(),
		a.foodsCommand(),
		a.serveCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) openStorage() (*storage.SQLiteStorage, error) {
	stor, err := storage.NewSQLiteStorage(a.cfg.Database.File)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return stor, nil
}

func (a *app) solverOptions() solver.Options {
	return solver.Options{
		CBCPath: a.cfg.Solver.CBCPath,
		LogDir:  a.cfg.Solver.LogDir,
		Logger:  a.logger,
	}
}

func (a *app) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Load the CSV catalog into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			stor, err := a.openStorage()
			if err != nil {
				return err
			}
			defer stor.Close()

			files := a.cfg.DataFiles
			stats, err := stor.ImportCSV(cmd.Context(), storage.CSVFiles{
				Density:   a.cfg.DataFile(files.Categories),
				Items:     a.cfg.DataFile(files.Items),
				Nutrition: a.cfg.DataFile(files.Nutrition),
				Prices:    a.cfg.DataFile(files.Prices),
			})
			if err != nil {
				return fmt.Errorf("failed to import catalog: %w", err)
			}
			a.logger.Info("Catalog imported",
				zap.Int("categories", stats.Categories),
				zap.Int("items", stats.Items),
				zap.String("database", a.cfg.Database.File))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items in %d categories\n", stats.Items, stats.Categories)
			return nil
		},
	}
}

// request maps the config's export and report settings onto a pipeline run.
func (a *app) request() (optimizer.Request, error) {
	formats, err := export.ParseFormats(a.cfg.Export.Formats)
	if err != nil {
		return optimizer.Request{}, err
	}
	reportFormat, err := report.ParseFormat(a.cfg.Export.ReportFormat)
	if err != nil {
		return optimizer.Request{}, err
	}
	return optimizer.Request{
		Config:       a.cfg.OptimizerConfig(),
		Formats:      formats,
		OutputDir:    a.cfg.Export.OutputDir,
		BaseName:     a.cfg.Export.Filename,
		Timeout:      a.cfg.Solver.Timeout,
		ReportPath:   a.cfg.ReportPath(),
		ReportFormat: reportFormat,
	}, nil
}

func (a *app) optimizeCommand() *cobra.Command {
	var engine string
	var noReport bool

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Build, export and solve the model, then write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if engine == "" {
				engine = a.cfg.Solver.Engine
			}
			slv, err := solver.New(solver.Engine(engine), a.solverOptions())
			if err != nil {
				return err
			}
			req, err := a.request()
			if err != nil {
				return err
			}
			if noReport {
				req.ReportPath = ""
			}

			stor, err := a.openStorage()
			if err != nil {
				return err
			}
			defer stor.Close()

			res, err := optimizer.NewPipeline(stor, slv, a.metrics, a.logger).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			out, err := res.Report.Render(req.ReportFormat)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&engine, "solver", "", "Solver engine (simplex or cbc), overrides solver.engine")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "Print the report without writing it to disk")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	var formats []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the model in LP, MPS or JSON form without solving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.request()
			if err != nil {
				return err
			}
			if len(formats) > 0 {
				if req.Formats, err = export.ParseFormats(formats); err != nil {
					return err
				}
			}

			stor, err := a.openStorage()
			if err != nil {
				return err
			}
			defer stor.Close()

			res, err := optimizer.NewPipeline(stor, nil, a.metrics, a.logger).Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "Export formats, overrides export.formats")
	return cmd
}

func (a *app) foodsCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "foods",
		Short: "List the stored food items as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			stor, err := a.openStorage()
			if err != nil {
				return err
			}
			defer stor.Close()

			foods, err := stor.ListFoods(cmd.Context(), category)
			if err != nil {
				return fmt.Errorf("failed to retrieve foods: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(foods)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only list items of this category")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the optimizer tools over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.NewBentoServer(&server.Config{
				Host:      a.cfg.Server.Host,
				Port:      a.cfg.Server.Port,
				DBPath:    a.cfg.Database.File,
				Version:   version,
				Solver:    a.solverOptions(),
				Engine:    solver.Engine(a.cfg.Solver.Engine),
				Timeout:   a.cfg.Solver.Timeout,
				Optimizer: a.cfg.OptimizerConfig(),
			}, a.metrics, a.logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(ctx); err != nil {
					errCh <- err
				}
			}()

			var serveErr error
			select {
			case <-sigCh:
				a.logger.Info("Received shutdown signal")
			case serveErr = <-errCh:
				a.logger.Error("Server error", zap.Error(serveErr))
			}

			a.logger.Info("Shutting down...")
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if err := srv.Stop(shutdownCtx); err != nil {
				a.logger.Error("Error during shutdown", zap.Error(err))
			}
			return serveErr
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bentokaze version %s\n", version)
		},
	}
}
