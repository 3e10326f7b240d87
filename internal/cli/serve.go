package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LouisLau-art/arktrans/server"
)

func newServeCommand(flags *Flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the translation HTTP API server.

Routes:
  GET  /                    health check
  GET  /v1/models           list enabled models
  POST /v1/chat/completions OpenAI-compatible translation
  POST /translate           batch translation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.Host, "host", flags.Host, "bind address")
	cmd.Flags().IntVarP(&flags.Port, "port", "p", flags.Port, "listen port")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")

	return cmd
}

func runServe(ctx context.Context, flags *Flags) error {
	translator, closeTracker, err := buildTranslator(flags)
	if err != nil {
		return err
	}
	defer closeTracker()

	addr := net.JoinHostPort(flags.Host, strconv.Itoa(flags.Port))
	fmt.Printf("Server starting on http://%s\n", addr)

	srv := server.NewServer(translator, server.WithLogger(slog.Default()))
	return srv.Run(ctx, addr)
}
