package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func newMaskCmd(c *cli) *cobra.Command {
	var (
		text    string
		asJSON  bool
		locale  string
		keepIDs []string
	)

	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Mask PII in text read from --text or stdin",
		Example: `  echo "Kart: 4539148803436467" | piiscan mask
  piiscan mask --text "mail ahmet@bank.com" --locale en
  piiscan mask --json < message.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("text") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			if locale != "" {
				c.cfg.Privacy.Locale = locale
			}

			engine, err := c.build()
			if err != nil {
				return err
			}
			defer engine.Close()

			a, err := engine.Analyzer.Analyze(cmd.Context(), text)
			if err != nil {
				return err
			}

			ids := privacy.AllIDs(a.Findings)
			for _, id := range keepIDs {
				delete(ids, id)
			}
			masked := engine.Analyzer.Mask(text, a.Findings, ids)

			out := cmd.OutOrStdout()
			if asJSON {
				a.MaskedText = masked
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(a)
			}
			_, err = io.WriteString(out, masked)
			return err
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to mask instead of stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full analysis as JSON")
	cmd.Flags().StringVar(&locale, "locale", "", "Mask token locale (en, tr)")
	cmd.Flags().StringSliceVar(&keepIDs, "keep", nil, "Finding ids to leave unmasked")
	return cmd
}
