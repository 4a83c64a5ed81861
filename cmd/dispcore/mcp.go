package main

import (
	"github.com/spf13/cobra"

	"github.com/1broseidon/dispcore/internal/logger"
	"github.com/1broseidon/dispcore/internal/mcp"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Start the MCP server on stdio. Designed to be invoked by MCP clients.
Tool calls are forwarded to a running dispcore daemon.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if res, err := flags.loadConfig(); err == nil {
				level = res.Config.Logging.Level
			}
			// stdout carries the protocol; logs go to stderr as JSON.
			log, err := logger.New(level, "json")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			server := mcp.NewServer(flags.client(), log.Named("mcp"))
			return server.Run(cmd.Context())
		},
	})
	return cmd
}
