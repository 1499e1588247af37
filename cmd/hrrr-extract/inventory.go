package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/extraction"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
)

func newInventoryCommand(c *commandContext) *cobra.Command {
	var (
		runDate string
		hour    int
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List the message kinds of one forecast file and the variables they match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseRunDate(runDate)
			if err != nil {
				return usageError{err}
			}
			if hour < 0 || hour > c.cfg.HRRR.MaxHour {
				return usageError{fmt.Errorf("--hour must be within 0..%d, got %d", c.cfg.HRRR.MaxHour, hour)}
			}

			svc, err := c.newService(cmd.Context(), serviceOptions{
				metrics: observability.NewMetrics(prometheus.NewRegistry()),
			})
			if err != nil {
				return err
			}

			inv, err := svc.Inventory(cmd.Context(), date, hour)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Inspecting %s\n", inv.Source)
			fmt.Fprintln(out, renderInventory(inv))
			return nil
		},
	}

	cmd.Flags().StringVar(&runDate, "run-date", "", "Run date, YYYY-MM-DD or YYYYMMDD (default: latest complete run)")
	cmd.Flags().IntVar(&hour, "hour", 0, "Forecast hour to inspect")

	return cmd
}

func renderInventory(inv extraction.Inventory) string {
	rows := make([][]string, 0, len(inv.Entries))
	for _, e := range inv.Entries {
		level := "-"
		if e.Level != nil {
			level = strconv.Itoa(*e.Level)
		}
		typeOfLevel := e.TypeOfLevel
		if typeOfLevel == "" {
			typeOfLevel = "-"
		}
		matches := make([]string, len(e.Matches))
		for i, m := range e.Matches {
			matches[i] = fmt.Sprintf("%s (%s)", m.Variable, m.Tier)
		}
		rows = append(rows, []string{
			e.ShortName,
			typeOfLevel,
			level,
			strconv.Itoa(e.Messages),
			strings.Join(matches, ", "),
		})
	}
	return renderTable(
		[]string{"Short name", "Type of level", "Level", "Messages", "Matches"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
