package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MereWhiplash/vectorbank/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the vectorbank tools over MCP stdio",
	Long: `Runs an MCP server on stdin/stdout backed by local storage.
Logs go to stderr so they do not corrupt the protocol stream.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background(), logger)
	defer cancel()

	svc, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vectorbank",
		Version: version,
	}, nil)
	tools.Register(server, svc)

	logger.Info("starting MCP server", "collections", svc.Collections())
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
