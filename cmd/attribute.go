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

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/attribution-cli/internal/attribution"
	"github.com/sells-group/attribution-cli/internal/export"
	"github.com/sells-group/attribution-cli/internal/mcf"
	"github.com/sells-group/attribution-cli/internal/pipeline"
	"github.com/sells-group/attribution-cli/internal/resilience"
	"github.com/sells-group/attribution-cli/internal/store"
	"github.com/sells-group/attribution-cli/internal/views"
)

const defaultViewFile = "Views.txt"

var (
	attributeWorkers int
	attributeForce   bool
	attributeDryRun  bool
	attributeExport  string
)

var attributeCmd = &cobra.Command{
	Use:   "attribute [viewFile] [startDate] [endDate]",
	Short: "Attribute revenue for every view and day in a date range",
	Long: `Reads "website;viewID" lines from viewFile (default Views.txt) and attributes each
day from startDate to endDate inclusive (YYYY-MM-DD, both default to yesterday).`,
	Args: cobra.MaximumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		viewFile, startArg, endArg := defaultViewFile, "", ""
		if len(args) > 0 {
			viewFile = args[0]
		}
		if len(args) > 1 {
			startArg = args[1]
		}
		if len(args) > 2 {
			endArg = args[2]
		}

		mode := "attribute"
		if attributeDryRun {
			mode = "dry-run"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		alloc, err := cfg.Attribution.Allocator()
		if err != nil {
			return eris.Wrap(err, "attribution config")
		}

		vs, err := views.Load(viewFile)
		if err != nil {
			return err
		}
		days, err := views.ResolveRange(startArg, endArg, time.Now())
		if err != nil {
			return err
		}

		client, err := mcf.NewClient(ctx, mcfOptions())
		if err != nil {
			return err
		}

		var st store.Store
		if !attributeDryRun {
			if st, err = openStore(ctx, "store"); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		workers := attributeWorkers
		if workers <= 0 {
			workers = cfg.Batch.MaxConcurrent
		}

		return runAttribute(ctx, pipeline.NewEngine(client, st, alloc, workers), pipeline.Plan(vs, days), attributeOpts{
			Force:      attributeForce,
			DryRun:     attributeDryRun,
			ExportPath: attributeExport,
		}, os.Stdout)
	},
}

func init() {
	attributeCmd.Flags().IntVar(&attributeWorkers, "workers", 0, "batches to run concurrently (default from config)")
	attributeCmd.Flags().BoolVar(&attributeForce, "force", false, "re-attribute days that already have a complete run")
	attributeCmd.Flags().BoolVar(&attributeDryRun, "dry-run", false, "compute credits without writing to the store")
	attributeCmd.Flags().StringVar(&attributeExport, "export", "", "also write credit rows to a .csv or .xlsx file")
	rootCmd.AddCommand(attributeCmd)
}

func mcfOptions() mcf.Options {
	retry := resilience.DefaultPolicy()
	retry.Attempts = cfg.MCF.MaxRetries
	retry.OnRetry = resilience.LogRetries("mcf.report")

	return mcf.Options{
		KeyFile:           cfg.MCF.KeyFile,
		BaseURL:           cfg.MCF.BaseURL,
		MaxResults:        cfg.MCF.MaxResults,
		RequestsPerSecond: cfg.MCF.RequestsPerSecond,
		Timeout:           time.Duration(cfg.MCF.TimeoutSecs) * time.Second,
		Retry:             retry,
	}
}

type attributeOpts struct {
	Force      bool
	DryRun     bool
	ExportPath string
}

// runAttribute executes the batches, writes the optional export and prints a
// summary. It returns an error when any batch failed.
func runAttribute(ctx context.Context, engine *pipeline.Engine, batches []attribution.Batch, opts attributeOpts, out io.Writer) error {
	summary, err := engine.Run(ctx, batches, pipeline.RunOpts{
		Force:   opts.Force,
		DryRun:  opts.DryRun,
		Collect: opts.ExportPath != "",
	})
	if summary != nil {
		formatSummary(out, summary)
	}
	if err != nil {
		return err
	}

	if opts.ExportPath != "" {
		if err := export.WriteFile(opts.ExportPath, summary.Rows); err != nil {
			return err
		}
	}

	for _, f := range summary.Failures {
		zap.L().Error("batch failed",
			zap.String("website", f.Batch.Website),
			zap.String("date", f.Batch.Day()),
			zap.Error(f.Err),
		)
	}
	return summary.Err()
}

// formatSummary writes run totals and any failed batches to w.
func formatSummary(out io.Writer, s *pipeline.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Batches:\t%d\n", s.Batches)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Transactions:\t%d\n", s.Transactions)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", s.Duplicates)
	_, _ = fmt.Fprintf(w, "Rows written:\t%d\n", s.RowsWritten)
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(w, "  FAILED %s\t%s\n", f.Batch, f.Err)
	}
	_ = w.Flush()
}
