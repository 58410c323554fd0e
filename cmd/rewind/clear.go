package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearAll bool

var clearCmd = &cobra.Command{
	Use:   "clear [job-id]",
	Short: "Remove cached jobs from the local store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVar(&clearAll, "all", false, "Clear every cached job")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearAll && len(args) == 0 {
		cmd.Help()
		return fmt.Errorf("specify a job id or --all")
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	store := application.StorageManager
	if !store.IsAvailable() {
		return fmt.Errorf("local cache is disabled or unavailable")
	}

	ctx := cmd.Context()
	if clearAll {
		if err := store.ClearAll(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		logger.Info().Msg("All cached jobs cleared")
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cached jobs")
		return nil
	}

	if err := application.Window.ClearJob(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to clear job %s: %w", args[0], err)
	}
	logger.Info().Str("job_id", args[0]).Msg("Job cache cleared")
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", args[0])
	return nil
}
