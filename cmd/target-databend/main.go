package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/target-databend/internal/checkpoint"
	"github.com/johndauphine/target-databend/internal/config"
	"github.com/johndauphine/target-databend/internal/driver/databend"
	"github.com/johndauphine/target-databend/internal/logging"
	"github.com/johndauphine/target-databend/internal/progress"
	"github.com/johndauphine/target-databend/internal/singer"
	"github.com/johndauphine/target-databend/internal/target"
	"github.com/johndauphine/target-databend/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.json",
				Usage:   "Path to configuration file (JSON or YAML)",
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "Read Singer messages from this file instead of stdin",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show a record counter on stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides log_level",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json); overrides log_format",
			},
		},
		Action: runLoad,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Verify the Databend connection with SELECT 1",
				Action: runCheck,
			},
			{
				Name:  "history",
				Usage: "List all runs, or view the batches of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
				},
				Action: showHistory,
			},
		},
	}
}

// loadConfig reads the config and applies the logging flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.LogFormat)
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logging.Warn("Received %s, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runLoad(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logging.Debug("Loading into %s", cfg)

	var in io.Reader = os.Stdin
	if path := c.String("input"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	opts := target.Options{
		Database:       cfg.DBName,
		BatchSize:      cfg.BatchSizeRows,
		MaxBatchAge:    cfg.MaxBatchAge,
		MaxParallelism: cfg.MaxParallelism,
		Progress:       progress.New(c.Bool("progress"), c.App.ErrWriter),
		StateOut:       c.App.Writer,
	}
	if cfg.HistoryDB != "" {
		state, err := checkpoint.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer state.Close()
		opts.History = state
	}

	ctx, cancel := signalContext()
	defer cancel()

	wh := databend.NewWriter(databend.MySQLOpener(cfg.DSN()),
		databend.WithMaxStatementSize(config.DefaultMaxAllowedPacket))
	return target.New(wh, opts).Run(ctx, singer.NewReader(in))
}

func runCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	wh := databend.NewWriter(databend.MySQLOpener(cfg.DSN()))
	if err := wh.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg, err)
	}
	fmt.Fprintf(c.App.Writer, "Connected to %s\n", cfg)
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return fmt.Errorf("history_db is not configured")
	}

	state, err := checkpoint.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer state.Close()

	// If --run flag is provided, show details for that specific run
	if runID := c.String("run"); runID != "" {
		return printRunDetails(c.App.Writer, state, runID)
	}
	return printHistory(c.App.Writer, state)
}

func printHistory(w io.Writer, h checkpoint.HistoryBackend) error {
	runs, err := h.GetAllRuns()
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tSTATUS\tBATCHES\tROWS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), runDuration(r),
			r.Status, r.Batches, r.Rows)
	}
	return tw.Flush()
}

func printRunDetails(w io.Writer, h checkpoint.HistoryBackend, runID string) error {
	run, err := h.GetRunByID(runID)
	if err != nil {
		return err
	}
	batches, err := h.GetRunBatches(runID)
	if err != nil {
		return fmt.Errorf("reading batches: %w", err)
	}

	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", runDuration(*run))
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}
	fmt.Fprintf(w, "Rows:     %d in %d batches\n\n", run.Rows, run.Batches)

	if len(batches) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tTABLE\tROWS\tDURATION\tSTATUS\tERROR")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			b.Stream, b.Table, b.Rows, b.Duration, b.Status, b.Error)
	}
	return tw.Flush()
}

func runDuration(r checkpoint.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
