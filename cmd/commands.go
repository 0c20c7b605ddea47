package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newProcessCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one batch of staged records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Processor().ProcessStaged(cmd.Context(), batchSize)
			if err != nil {
				return fmt.Errorf("process staged: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (0 uses pipeline.batch_size)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		source string
		staged bool
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest a JSON array of raw event records",
		Long: `Reads a JSON array of raw records and upserts them directly. With --staged
the records are appended to staging instead and left for "process".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var raws []events.RawEvent
			if err := json.Unmarshal(data, &raws); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			if !staged {
				return printJSON(cmd.OutOrStdout(), a.Processor().Ingest(cmd.Context(), raws, source))
			}
			results := make([]events.StageResult, 0, len(raws))
			for _, raw := range raws {
				res, err := a.Stager().Stage(cmd.Context(), raw, source)
				if err != nil {
					a.Logger().Warn("stage record failed", zap.Error(err))
				}
				results = append(results, res)
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&source, "source", "cli", "source label recorded with each record")
	cmd.Flags().BoolVar(&staged, "staged", false, "append to staging instead of upserting")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one link-health pass over events due for a check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.Config().Pipeline.PassLimit
			}
			res, err := a.HealthPass().Run(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("link health pass: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to check (0 uses pipeline.pass_limit)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var keywords []string
	cmd := &cobra.Command{
		Use:   "check URL",
		Short: "Check and score a single URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := a.Checker().CheckURL(cmd.Context(), args[0], keywords)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "comma-separated keywords the page title should mention")
	return cmd
}
