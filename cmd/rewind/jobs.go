package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ternarybob/rewind/internal/models"
)

var (
	jobsCached bool
	jobsFormat string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded jobs and their cache state",
	RunE:  runJobs,
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsCached, "cached", false, "List only the local cache, without calling the API")
	jobsCmd.Flags().StringVarP(&jobsFormat, "format", "o", "table", "Output format: table, json or yaml")
}

type jobRow struct {
	ID     string                   `json:"id"`
	Name   string                   `json:"name,omitempty"`
	Status string                   `json:"status,omitempty"`
	Cached *models.JobCacheMetadata `json:"cached,omitempty"`
}

func runJobs(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := cmd.Context()
	cached, err := application.StorageManager.MetadataStorage().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cached jobs: %w", err)
	}
	byID := make(map[string]*models.JobCacheMetadata, len(cached))
	for i := range cached {
		if cached[i].Version == models.CacheSchemaVersion {
			byID[cached[i].JobID] = &cached[i]
		}
	}

	var rows []jobRow
	if jobsCached {
		for _, meta := range byID {
			rows = append(rows, jobRow{ID: meta.JobID, Cached: meta})
		}
	} else {
		jobs, err := application.APIClient.ListJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		for _, job := range jobs {
			rows = append(rows, jobRow{ID: job.ID, Name: job.Name, Status: job.Status, Cached: byID[job.ID]})
		}
	}

	if jobsFormat != "table" {
		return writeOutput(cmd.OutOrStdout(), rows, jobsFormat)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCACHED\tAUDIT\tCHAT\tGRAPH")
	for _, row := range rows {
		if row.Cached == nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\tno\t-\t-\t-\n", row.ID, row.Name, row.Status)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n", row.ID, row.Name, row.Status,
			row.Cached.CachedAt.Format("2006-01-02 15:04"), row.Cached.AuditCount, row.Cached.ChatCount, row.Cached.GraphDeltaCount)
	}
	return tw.Flush()
}
