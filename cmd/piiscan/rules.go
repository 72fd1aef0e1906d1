package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func newRulesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the active pattern rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := privacy.NewLibrary(privacy.LibraryConfig{
				PatternFile: c.cfg.Privacy.PatternFile,
				Enabled:     c.cfg.Privacy.EnabledRules,
			})
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Category", "Weight", "Score", "Validator", "Description"})
			table.SetAutoWrapText(false)
			for _, r := range lib.Rules() {
				table.Append([]string{
					r.ID,
					string(r.Category),
					strconv.FormatUint(uint64(r.SeverityWeight), 10),
					fmt.Sprintf("%.2f", r.Score),
					r.ValidatorName,
					r.Description,
				})
			}
			table.Render()
			return nil
		},
	}
}
