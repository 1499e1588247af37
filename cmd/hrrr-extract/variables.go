package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
)

func newVariablesCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "variables",
		Short: "List the variables that can be extracted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderVariables(catalog.Default().Specs()))
			return nil
		},
	}
}

func renderVariables(specs []catalog.Spec) string {
	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		level := "any"
		if s.Level != nil {
			level = strconv.Itoa(*s.Level)
		}
		typeOfLevel := "any"
		if len(s.TypeOfLevel) > 0 {
			typeOfLevel = strings.Join(s.TypeOfLevel, ", ")
		}
		rows = append(rows, []string{
			s.ID,
			strings.Join(s.ShortNames, ", "),
			typeOfLevel,
			level,
			strings.Join(s.FallbackHints, "; "),
		})
	}
	return renderTable(
		[]string{"Variable", "Short names", "Type of level", "Level", "Fallback hints"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
