package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	kwmcp "github.com/glueco/keywarden/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes owner-side gateway
management as tools for AI agents like Claude. Supports stdio (default) and
HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.

In HTTP mode, the server listens on the specified port for streamable HTTP
connections.`,
		Example: `  keywarden mcp                            # stdio mode (for Claude Desktop)
  keywarden mcp --transport http --port 3001  # HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (default from config, else stdio)")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.MCP.Transport
	}
	if transport == "" {
		transport = "stdio"
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mcpSrv := kwmcp.NewMCPServer(st, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		addr := fmt.Sprintf(":%d", port)
		logger.Info("starting MCP HTTP server", "addr", addr)
		return mcpSrv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
