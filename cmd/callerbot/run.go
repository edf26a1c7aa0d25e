package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"callerbot/internal/audit"
	"callerbot/internal/bus"
	"callerbot/internal/channel"
	"callerbot/internal/config"
	"callerbot/internal/dispatch"
	"callerbot/internal/domain"
	"callerbot/internal/lookup"
	"callerbot/internal/metrics"

	"github.com/spf13/cobra"
)

// pipeline bundles the components shared by run, chat and lookup.
type pipeline struct {
	bus        *bus.InMemoryBus
	dispatcher *dispatch.Dispatcher
	store      *audit.SQLiteStore // nil when audit is disabled
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	messageBus := bus.New(cfg.Dispatcher.BusBuffer, logger)

	client := lookup.NewClient(lookup.ClientConfig{
		Endpoint:  cfg.Lookup.Endpoint,
		UserAgent: cfg.Lookup.UserAgent,
		Timeout:   time.Duration(cfg.Lookup.TimeoutSeconds) * time.Second,
		Logger:    logger,
	})

	p := &pipeline{bus: messageBus}

	var recorder domain.DeliveryRecorder
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			messageBus.Close()
			return nil, fmt.Errorf("audit store: %w", err)
		}
		p.store = store
		recorder = store
	}

	p.dispatcher = dispatch.New(dispatch.Config{
		Lookup:         client,
		Bus:            messageBus,
		Recorder:       recorder,
		Region:         cfg.Lookup.Region,
		InstallationID: cfg.Lookup.InstallationID,
		Concurrency:    cfg.Dispatcher.MaxConcurrent,
		Logger:         logger,
	})
	return p, nil
}

func (p *pipeline) Close() {
	p.bus.Close()
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			logger.Warn("audit store close failed", "err", err)
		}
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway"},
		Short:   "Start the Telegram bot",
		Long:    "Polls Telegram for messages and answers each one. Press Ctrl+C to stop.",
		RunE:    runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if err := config.RequireCredentials(cfg, true); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Collector.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Endpoint, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		p.dispatcher.Run(ctx)
	}()

	telegramCh := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		AllowFrom:   cfg.Telegram.AllowFrom,
		ParseMode:   cfg.Telegram.ParseMode,
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      logger,
	})

	logger.Info("callerbot started. Press Ctrl+C to stop.", "version", version, "region", cfg.Lookup.Region)

	// Start blocks until ctx is cancelled or the bot cannot connect.
	startErr := telegramCh.Start(ctx, p.bus)
	if startErr != nil {
		logger.Error("telegram channel error", "err", startErr)
		stop()
	}
	logger.Info("shutting down...")

	// In-flight lookups are not cancelled, so allow them their full timeout.
	shutdownTimeout := time.Duration(cfg.Lookup.TimeoutSeconds)*time.Second + 10*time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = telegramCh.Stop()
		<-dispatched
		p.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, in-flight replies may be lost", "timeout", shutdownTimeout)
		return fmt.Errorf("shutdown timed out")
	}
	return startErr
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Try the bot interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if err := config.RequireCredentials(cfg, false); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			go p.dispatcher.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger, In: cmd.InOrStdin(), Out: cmd.OutOrStdout()})
			return cliCh.Start(ctx, p.bus)
		},
	}
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <text>",
		Short: "Run one message through the pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if err := config.RequireCredentials(cfg, false); err != nil {
				return err
			}

			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			reply := p.dispatcher.Handle(cmd.Context(), domain.InboundMessage{
				Channel:    "cli",
				ChatID:     "direct",
				MessageID:  "1",
				SenderName: "local",
				Content:    strings.Join(args, " "),
				Timestamp:  time.Now(),
			})
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the delivery failure log",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent delivery failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled (set audit.enabled to true)")
			}

			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			failures, err := store.RecentFailures(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printFailures(cmd.OutOrStdout(), failures)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to show")
	cmd.AddCommand(list)
	return cmd
}

func printFailures(w io.Writer, failures []domain.DeliveryFailure) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCHANNEL\tCHAT\tKIND\tDETAIL")
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.CreatedAt.Format(time.RFC3339), f.Channel, f.ChatID, f.Kind, strconv.Quote(f.Detail))
	}
	_ = tw.Flush()
}
