package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	renderIndex  int
	renderAt     string
	renderFormat string
)

var renderCmd = &cobra.Command{
	Use:   "render <job-id>",
	Short: "Print the knowledge graph of a job at one point in time",
	Long: `Reconstructs the graph of a job at a delta index (--index) or at the
last delta on or before a timestamp (--at). Without either the final graph is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().IntVar(&renderIndex, "index", -1, "Delta index to render")
	renderCmd.Flags().StringVar(&renderAt, "at", "", "RFC 3339 timestamp to render at")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "o", "json", "Output format: json or yaml")
	renderCmd.MarkFlagsMutuallyExclusive("index", "at")
}

func runRender(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	var at time.Time
	if renderAt != "" {
		var err error
		at, err = time.Parse(time.RFC3339Nano, renderAt)
		if err != nil {
			return fmt.Errorf("invalid --at %q: expected RFC 3339", renderAt)
		}
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	session := application.Session
	if err := session.LoadJob(cmd.Context(), jobID); err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	index := renderIndex
	switch {
	case renderAt != "":
		if index, err = session.FindGraphIndexAt(at); err != nil {
			return err
		}
	case !cmd.Flags().Changed("index"):
		index = session.State().GraphIndex
	}

	graph, err := session.RenderGraphAt(index)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), graph, renderFormat)
}
