package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/rewind/internal/app"
	"github.com/ternarybob/rewind/internal/common"
)

func main() {
	configPath := os.Getenv("REWIND_CONFIG")
	if configPath == "" {
		configPath = "rewind.toml"
	}

	var paths []string
	if _, err := os.Stat(configPath); err == nil {
		paths = append(paths, configPath)
	}

	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The inspection server answers on demand, it never polls
	config.Poll.Enabled = false
	config.Metrics.Enabled = false

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	application, err := app.New(config, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	mcpServer := newMCPServer(newToolset(application, logger))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Error().Err(err).Msg("MCP server failed")
	}
}

// newMCPServer registers every timeline inspection tool
func newMCPServer(tools *toolset) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"rewind",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createListJobsTool(), tools.handleListJobs)
	mcpServer.AddTool(createLoadJobTool(), tools.handleLoadJob)
	mcpServer.AddTool(createRenderGraphAtTool(), tools.handleRenderGraphAt)
	mcpServer.AddTool(createFindGraphIndexAtTool(), tools.handleFindGraphIndexAt)
	mcpServer.AddTool(createGetAuditRangeTool(), tools.handleGetAuditRange)
	mcpServer.AddTool(createCacheStatusTool(), tools.handleCacheStatus)

	return mcpServer
}
