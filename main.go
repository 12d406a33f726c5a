package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-contacts/cmd"
	"github.com/dhcgn/mbox-contacts/config"
	"github.com/dhcgn/mbox-contacts/imap"
	"github.com/dhcgn/mbox-contacts/mbox"
	"github.com/dhcgn/mbox-contacts/progress"
	"github.com/dhcgn/mbox-contacts/runner"
	"github.com/dhcgn/mbox-contacts/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mbox-contacts",
		Short: "Collect the participants of mbox archives or IMAP folders into an address book",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mbox-contacts", "source", cfg.Source(), "mbox", cfg.MboxPath, "imapHost", cfg.IMAPHost, "folder", cfg.Folder, "stateDir", cfg.StateDir, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(cmd.NewTopCommand(), cmd.NewDecodeCommand(), cmd.NewExportCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	alreadyDone := r.Tracker().Snapshot().Processed

	if err := addSource(cfg, r, logger); err != nil {
		if closeErr := r.Close(); closeErr != nil {
			logger.Warn("closing state after failed setup", "err", closeErr)
		}
		return err
	}

	// The bar needs the message count up front, which only an mbox can give
	// without a round trip.
	total := 0
	if cfg.Source() == config.SourceMbox {
		if total, err = mbox.CountMessages(cfg.MboxPath); err != nil {
			logger.Warn("could not count messages", "mbox", cfg.MboxPath, "err", err)
			total = 0
		}
	}
	bar := progress.New(total, alreadyDone, cfg.LogLevel)
	progress.NewReporter(r, bar, logger)
	stats.NewReporter(r, logger)

	return r.Start()
}

func addSource(cfg config.Config, r *runner.Runner, logger *slog.Logger) error {
	switch cfg.Source() {
	case config.SourceIMAP:
		sourceOpts := imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.Folder,
		}
		if _, err := imap.NewSource(sourceOpts, r, logger); err != nil {
			return fmt.Errorf("imap.NewSource: %w", err)
		}
	default:
		readerOpts := mbox.Options{
			Path:          cfg.MboxPath,
			IncludeHeader: cfg.IncludeHeader,
			IncludeBody:   cfg.IncludeBody,
			ExcludeHeader: cfg.ExcludeHeader,
			ExcludeBody:   cfg.ExcludeBody,
		}
		if _, err := mbox.NewProducer(readerOpts, r, logger); err != nil {
			return fmt.Errorf("mbox.NewProducer: %w", err)
		}
	}
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbox-contacts-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
