package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/batch"
)

func newScanCmd(c *cli) *cobra.Command {
	var (
		output   string
		workers  int
		noMasked bool
		session  string
		noAudit  bool
	)

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Analyze every record of a CSV, Parquet or JSON dataset",
		Long: `Analyze every record of a dataset and write one JSON result per line.

CSV files need a "text" column; JSON and Parquet rows need a "text" field.
Records that fail analysis carry an "error" field and do not stop the scan.`,
		Example: `  piiscan scan customers.csv
  piiscan scan tickets.parquet --workers 8 --output results.jsonl
  piiscan scan chats.jsonl --no-masked --session import-42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			records, err := batch.ReadRecords(args[0], c.log)
			if err != nil {
				return err
			}

			engine, err := c.build()
			if err != nil {
				return err
			}
			defer func() {
				if err := engine.Close(); err != nil {
					c.log.Warn("Failed to close engine resources", zap.Error(err))
				}
			}()

			bc := c.cfg.Batch
			if cmd.Flags().Changed("workers") {
				bc.Workers = workers
			}
			if noMasked {
				bc.IncludeMasked = false
			}
			if session != "" {
				bc.SessionID = session
			}

			var sink batch.AuditSink
			if engine.Audit != nil && !noAudit {
				sink = engine.Audit
			}

			pipeline := batch.NewPipeline(engine.Analyzer, engine.Cache, sink, bc, c.log)
			results, summary, err := pipeline.Run(ctx, records)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := writeResults(out, results); err != nil {
				return err
			}

			printSummary(cmd.ErrOrStderr(), args[0], summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write results to this file instead of stdout")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of worker goroutines (default from config)")
	cmd.Flags().BoolVar(&noMasked, "no-masked", false, "Omit masked text from results")
	cmd.Flags().StringVar(&session, "session", "", "Session id recorded in the audit trail")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not write audit records even if the audit store is enabled")
	return cmd
}

func writeResults(w io.Writer, results []batch.Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write result for row %d: %w", r.Row, err)
		}
	}
	return nil
}

func printSummary(w io.Writer, path string, s *batch.Summary) {
	fmt.Fprintf(w, "Scanned %s: %d records in %s\n", path, s.TotalRecords, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  ok: %d  failed: %d  with PII: %d\n", s.ProcessedOK, s.Failed, s.WithPII)
	fmt.Fprintf(w, "  risk high: %d  medium: %d  low: %d\n", s.High, s.Medium, s.Low)
	if s.CacheHits > 0 || s.Audited > 0 {
		fmt.Fprintf(w, "  cache hits: %d  audited: %d\n", s.CacheHits, s.Audited)
	}
}
