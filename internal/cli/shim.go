package cli

import (
	"context"
	"errors"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MereWhiplash/vectorbank/internal/client"
	"github.com/MereWhiplash/vectorbank/internal/shim"
)

// APIURLEnv names the environment variable read when --api-url is unset
const APIURLEnv = "VECTORBANK_API_URL"

var apiURL string

var shimCmd = &cobra.Command{
	Use:   "shim",
	Short: "Serve the vectorbank tools over MCP stdio, proxied to a remote API",
	RunE:  runShim,
}

func init() {
	shimCmd.Flags().StringVar(&apiURL, "api-url", "", "vectorbank API URL (or "+APIURLEnv+")")
	rootCmd.AddCommand(shimCmd)
}

// resolveAPIURL prefers the flag over the environment
func resolveAPIURL() (string, error) {
	if apiURL != "" {
		return apiURL, nil
	}
	if u := os.Getenv(APIURLEnv); u != "" {
		return u, nil
	}
	return "", errors.New("API URL required: use --api-url or " + APIURLEnv)
}

func runShim(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	u, err := resolveAPIURL()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background(), logger)
	defer cancel()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vectorbank",
		Version: version,
	}, nil)
	shim.Register(server, shim.NewHandler(client.New(u)))

	logger.Info("starting MCP shim", "api_url", u)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
