package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one scrape cycle and print the result as JSON",
		Long: `check runs a single fetch-classify-render cycle. By default it writes the
page and match record like the scheduler would; --dry-run renders in memory
and leaves the site directory, record, mirror and topic untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), e.cfg, e.logger, wireOptions{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := rt.Close(); closeErr != nil {
					e.logger.Warn("runtime close failed", zap.Error(closeErr))
				}
			}()

			result := rt.runner.RunCycle(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if result.Failed() {
				return fmt.Errorf("cycle %s: %w", result.Outcome, result.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render in memory without writing or announcing")
	return cmd
}
