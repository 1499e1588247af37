package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/extraction"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/points"
)

type ingestOptions struct {
	pointsFile string
	runDate    string
	variables  []string
	numHours   int
	workers    int
	runID      string
}

func newIngestCommand(c *commandContext) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest POINTS_FILE",
		Short: "Extract forecasts for the points in POINTS_FILE and store new rows",
		Long: "Reads one lat,lon pair per line from POINTS_FILE, extracts the requested\n" +
			"variables at the nearest grid cell for every forecast hour of the run and\n" +
			"inserts the rows that are not stored yet.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.pointsFile = args[0]
			return c.runIngest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.runDate, "run-date", "", "Run date, YYYY-MM-DD or YYYYMMDD (default: latest complete run)")
	flags.StringSliceVar(&opts.variables, "variables", nil, "Comma separated variables (default: all, see the variables command)")
	flags.IntVar(&opts.numHours, "num-hours", 48, "Forecast hours to ingest, starting at hour 0")
	flags.IntVar(&opts.workers, "workers", 0, "Forecast hours processed concurrently (default: from config)")
	flags.StringVar(&opts.runID, "run-id", "", "Run identifier, UUIDv7 (default: generated)")

	return cmd
}

func (c *commandContext) runIngest(ctx context.Context, out io.Writer, opts ingestOptions) error {
	runDate, err := parseRunDate(opts.runDate)
	if err != nil {
		return usageError{err}
	}

	maxHours := c.cfg.HRRR.MaxHour
	if opts.numHours < 1 || opts.numHours > maxHours {
		return usageError{fmt.Errorf("--num-hours must be within 1..%d, got %d", maxHours, opts.numHours)}
	}

	runID := model.RunID(opts.runID)
	if runID == "" {
		if runID, err = model.NewRunID(); err != nil {
			return err
		}
	} else if err := runID.Validate(); err != nil {
		return usageError{fmt.Errorf("--run-id: %w", err)}
	}

	// Validate variables before touching the network or the sink.
	if len(opts.variables) > 0 {
		if _, err := catalog.Default().Resolve(opts.variables); err != nil {
			return err
		}
	}

	pts, err := points.ReadFile(opts.pointsFile)
	if err != nil {
		return usageError{err}
	}

	label := "auto"
	if !runDate.IsZero() {
		label = runDate.Format("2006-01-02")
	}
	c.logger.InfoContext(ctx, "starting ingestion",
		"points", len(pts),
		"run_date", label,
		"hours", opts.numHours,
		"run_id", runID.String(),
	)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	svc, err := c.newService(ctx, serviceOptions{
		runID:   runID,
		workers: opts.workers,
		metrics: metrics,
		archive: true,
	})
	if err != nil {
		return err
	}

	store, err := c.openSink(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := svc.Ingest(ctx, extraction.Request{
		Points:    pts,
		RunDate:   runDate,
		Variables: opts.variables,
		NumHours:  opts.numHours,
	}, store)
	c.pushMetrics(runID, reg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s): rows considered: %d; inserted (new): %d\n",
		summary.RunDate.Format("2006-01-02"), summary.RunID, summary.Unique, summary.Inserted)
	return nil
}

func (c *commandContext) pushMetrics(runID model.RunID, reg prometheus.Gatherer) {
	if c.cfg.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := observability.Push(ctx, c.cfg.PushgatewayURL, "hrrr_extract", runID.String(), reg); err != nil {
		c.logger.Warn("failed to push metrics", "error", err)
	}
}

// parseRunDate accepts YYYY-MM-DD and YYYYMMDD. Empty input yields the zero
// time, meaning "latest complete run".
func parseRunDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("--run-date must be YYYY-MM-DD or YYYYMMDD, got %q", s)
}
