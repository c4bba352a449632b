package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/attribution-cli/internal/monitoring"
	"github.com/sells-group/attribution-cli/internal/store"
)

var checkSend bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate recent run health and report alerts",
	Long: `Collects run metrics over the monitoring lookback window and prints any
alerts. With --send, alerts are also posted to monitoring.webhook_url.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker, alerter := newChecker(st)
		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}

		formatCheck(os.Stdout, snap, alerts)
		if checkSend {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "Sent %d of %d alerts.\n", sent, len(alerts))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkSend, "send", false, "post alerts to the configured webhook")
	rootCmd.AddCommand(checkCmd)
}

func newChecker(st store.Store) (*monitoring.Checker, *monitoring.Alerter) {
	mc := cfg.Monitoring
	collector := monitoring.NewCollector(st, time.Duration(mc.StuckAfterMins)*time.Minute)
	alerter := monitoring.NewAlerter(mc)
	return monitoring.NewChecker(collector, alerter, mc), alerter
}

// formatCheck writes the snapshot totals and any alerts to w.
func formatCheck(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (complete %d, failed %d, skipped %d, running %d)\n",
		snap.RunsTotal, snap.RunsComplete, snap.RunsFailed, snap.RunsSkipped, snap.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailRate*100)
	_, _ = fmt.Fprintf(w, "Rejection rate:\t%.1f%%\n", snap.RejectionRate*100)
	_, _ = fmt.Fprintf(w, "Rows written:\t%d\n", snap.RowsWritten)
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(w, "No alerts.")
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "  ALERT [%s] %s\t%s\n", a.Severity, a.Type, a.Message)
	}
	_ = w.Flush()
}
