package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"statusmon/internal/config"
	"statusmon/internal/health"
	"statusmon/internal/ingest"
	"statusmon/internal/models"
	"statusmon/internal/producer"
	"statusmon/internal/server"
	"statusmon/internal/storage"
)

var errUnhealthy = errors.New("not healthy")

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "statusmon",
		Short:         "Service status aggregation",
		Long:          "statusmon collects UP/DOWN reports from hosts and answers overall and per-service health queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newReportCommand(opts))
	root.AddCommand(newImportCommand(opts))
	root.AddCommand(newCheckCommand(opts))
	return root
}

func (o *rootOptions) load(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, newLogger(stderr, cfg.LogLevel), nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and health API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address for the web server (overrides listen_addr)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	ingestor := ingest.NewIngestor(store, cfg.Store.Collection, cfg.Mode())
	aggregator := health.NewAggregator(store, cfg.Store.Collection, cfg.Mode(), cfg.StaleAfter())

	if cfg.Ingest.Watch && cfg.Ingest.SpoolDir != "" {
		watcher := ingest.NewWatcher(cfg.Ingest.SpoolDir, cfg.WatchInterval(), ingestor, logger)
		watcher.Start()
		defer watcher.Stop()
	}

	srv := server.New(cfg.ListenAddr, ingestor, aggregator, server.Options{
		APIKey:       cfg.Ingest.APIKey,
		MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
		PushInterval: cfg.WSPushInterval(),
		Logger:       logger,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}()

	logger.Info("statusmon listening",
		"addr", cfg.ListenAddr,
		"backend", cfg.Store.Backend,
		"collection", cfg.Store.Collection,
		"key_mode", cfg.Mode(),
	)
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	var (
		once      bool
		spoolOnly bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Probe local services and deliver status records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			spool := producer.NewFileSink(cfg.Ingest.SpoolDir)
			var sink producer.Sink = producer.FallbackSink{
				Primary:   producer.NewHTTPSink(cfg.Ingest.URL, cfg.Ingest.APIKey),
				Secondary: spool,
				Logger:    logger,
			}
			if spoolOnly {
				sink = spool
			}

			reporter, err := producer.New(producer.Config{
				HostName:     cfg.HostName,
				Services:     cfg.Services,
				Interval:     cfg.Interval(),
				ProbeTimeout: cfg.ProbeTimeout(),
			}, producer.NewHTTPProbe(cfg.HTTPChecks), sink, logger)
			if err != nil {
				return err
			}

			if once {
				records, err := reporter.RunOnce(cmd.Context())
				for _, rec := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.ServiceName, rec.ServiceStatus)
				}
				return err
			}

			logger.Info("reporting services", "services", cfg.Services, "interval", cfg.Interval())
			reporter.Start()
			<-cmd.Context().Done()
			reporter.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "probe every service once and exit")
	cmd.Flags().BoolVar(&spoolOnly, "spool-only", false, "write records to the spool directory instead of posting them")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Ingest every status file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			ingestor := ingest.NewIngestor(store, cfg.Store.Collection, cfg.Mode())
			results, err := ingestor.ImportDir(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			var rejected int
			for _, res := range results {
				if res.Err != nil {
					rejected++
					fmt.Fprintf(out, "rejected\t%s\t%v\n", res.Path, res.Err)
					continue
				}
				fmt.Fprintf(out, "ingested\t%s\t%s\n", res.Path, res.Key)
			}
			if err != nil {
				return err
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d files rejected", rejected, len(results))
			}
			return nil
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "check [service]",
		Short: "Print overall or per-service health and fail unless UP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			agg := health.NewAggregator(store, cfg.Store.Collection, cfg.Mode(), cfg.StaleAfter())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			var status models.Status
			if len(args) == 0 {
				report := agg.Overall(cmd.Context())
				if report.Err != nil {
					return report.Err
				}
				status = report.Status
				err = enc.Encode(report)
			} else {
				report, serr := agg.Service(cmd.Context(), args[0], host)
				if serr != nil {
					return serr
				}
				status = report.Status
				err = enc.Encode(report)
			}
			if err != nil {
				return err
			}
			if status != models.StatusUp {
				return fmt.Errorf("%w: %s", errUnhealthy, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "restrict a service check to one host")
	return cmd
}
