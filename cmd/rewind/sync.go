package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/rewind/internal/models"
)

var syncRefresh bool

var syncCmd = &cobra.Command{
	Use:   "sync <job-id>",
	Short: "Cache a job locally",
	Long:  `Fetches every stream of a job into the local cache. A cache that already matches the server is left alone unless --refresh is given.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncRefresh, "refresh", false, "Clear and refetch even if the cache is current")
}

func runSync(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.StorageManager.IsAvailable() {
		return fmt.Errorf("local cache is disabled or unavailable")
	}

	ctx := cmd.Context()
	if err := application.Window.LoadJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if syncRefresh {
		if err := application.Window.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh job %s: %w", jobID, err)
		}
	}

	status := application.Window.Status()
	counts := application.Window.Counts()

	logger.Info().
		Str("job_id", jobID).
		Bool("from_cache", status.FromCache).
		Int("audit", counts[models.StreamAudit]).
		Int("chat", counts[models.StreamChat]).
		Int("graph", counts[models.StreamGraph]).
		Msg("Job synced")

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d audit entries, %d chat turns, %d graph deltas (from cache: %v)\n",
		jobID, counts[models.StreamAudit], counts[models.StreamChat], counts[models.StreamGraph], status.FromCache)
	return nil
}
