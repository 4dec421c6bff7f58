package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/grachmannico95/dues-ledger/internal/app"
	"github.com/grachmannico95/dues-ledger/internal/config"
	"github.com/grachmannico95/dues-ledger/internal/service"
	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "duesctl",
		Usage: "operate the dues ledger against a local SQLite database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: "dues-ledger.db", EnvVars: []string{"SQLITE_PATH"}, Usage: "SQLite database path"},
			&cli.StringFlag{Name: "log-level", Value: "warn", EnvVars: []string{"LOG_LEVEL"}},
		},
		Commands: []*cli.Command{
			parseCommand(),
			importBankCommand(),
			runCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "parse an employer remittance file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "csv, excel or xml; detected from the extension when empty"},
			&cli.StringFlag{Name: "date-order", Usage: "month_first or day_first"},
			&cli.StringFlag{Name: "tenant"},
			&cli.StringFlag{Name: "employer"},
			&cli.BoolFlag{Name: "store", Usage: "keep valid lines as wage data"},
			&cli.BoolFlag{Name: "reconcile", Usage: "compare with billed dues and print the report"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				f, err := openArg(c)
				if err != nil {
					return err
				}
				defer f.Close()

				upload := service.RemittanceUpload{
					TenantID:   c.String("tenant"),
					EmployerID: c.String("employer"),
					FileName:   filepath.Base(f.Name()),
					Format:     c.String("format"),
					DateOrder:  c.String("date-order"),
					Store:      c.Bool("store"),
					Reader:     f,
				}

				if c.Bool("reconcile") {
					outcome, err := a.Reconciliation.ReconcileRemittance(ctx, upload)
					if err != nil {
						return err
					}
					fmt.Fprint(c.App.Writer, outcome.Report)
					return nil
				}

				outcome, err := a.Reconciliation.ParseRemittance(ctx, upload)
				if err != nil {
					return err
				}
				return writeJSON(c.App.Writer, outcome)
			})
		},
	}
}

func importBankCommand() *cli.Command {
	return &cli.Command{
		Name:      "import-bank",
		Usage:     "reconcile a bank statement against paid dues",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: "generic", Usage: "generic, td, rbc, scotiabank, bmo or ofx"},
			&cli.StringFlag{Name: "date-order"},
			&cli.StringFlag{Name: "tenant", Required: true},
			&cli.BoolFlag{Name: "json", Usage: "print the full result instead of the report"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				f, err := openArg(c)
				if err != nil {
					return err
				}
				defer f.Close()

				outcome, err := a.Reconciliation.ReconcileBankStatement(ctx, service.BankStatementUpload{
					TenantID:  c.String("tenant"),
					Format:    c.String("format"),
					DateOrder: c.String("date-order"),
					Reader:    f,
				})
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return writeJSON(c.App.Writer, outcome)
				}
				fmt.Fprint(c.App.Writer, outcome.Report)
				if n := len(outcome.Skipped); n > 0 {
					fmt.Fprintf(c.App.Writer, "\n%d statement rows skipped\n", n)
				}
				return nil
			})
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run one workflow stage for a tenant",
		ArgsUsage: "<monthly_dues|arrears|payments|stipends>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				task, ok := a.Task(c.Args().First())
				if !ok {
					return fmt.Errorf("unknown stage %q", c.Args().First())
				}
				summary, err := a.Runner.Run(ctx, task, c.String("tenant"))
				if err != nil {
					return err
				}
				return printSummary(c.App.Writer, summary)
			})
		},
	}
}

// withApp builds the application on the SQLite store and drains the event
// bus before returning so queued notifications are delivered.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = c.String("db")
	cfg.Scheduler.Enabled = false
	cfg.Logging.Level = c.String("log-level")
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	ctx := c.Context
	if err := a.Start(ctx); err != nil {
		a.Close()
		return err
	}

	runErr := fn(ctx, a)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func openArg(c *cli.Context) (*os.File, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one file argument")
	}
	return os.Open(c.Args().First())
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, s *workflow.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "stage\t%s\n", s.Stage)
	fmt.Fprintf(tw, "tenant\t%s\n", s.TenantID)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)

	for _, k := range sortedKeys(s.Counts) {
		fmt.Fprintf(tw, "%s\t%d\n", k, s.Counts[k])
	}
	for _, k := range sortedKeys(s.Amounts) {
		fmt.Fprintf(tw, "%s amount\t%s\n", k, s.Amounts[k])
	}
	for _, e := range s.Errors {
		fmt.Fprintf(tw, "error\t%s %s: %s\n", e.EntityType, e.EntityID, e.Message)
	}
	for _, warning := range s.Warnings {
		fmt.Fprintf(tw, "warning\t%s\n", warning)
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
