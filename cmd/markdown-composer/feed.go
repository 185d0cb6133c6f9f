package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"markdown-composer/internal/editor"
	"markdown-composer/internal/logging"
)

func feedCmd() *cobra.Command {
	var (
		port     uint16
		interval time.Duration
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "feed [flags] <file>",
		Short: "Act as the editor: stream a markdown file to a composer",
		Long: `feed listens on localhost, waits for markdown-composer to connect and
publishes the file's content every time it changes on disk.

Examples:
  markdown-composer feed --port 7800 README.md
  markdown-composer 7800`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logLevel)
			if err != nil {
				return usageError(err)
			}
			if interval <= 0 {
				return usageError(fmt.Errorf("interval must be positive, got %s", interval))
			}
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return usageError(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
			pub, err := editor.Listen(addr, logging.Component(logger, "editor"))
			if err != nil {
				return fatalError(err)
			}
			defer pub.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", pub.Port())
			logger.Info().Uint16("port", pub.Port()).Str("path", path).Msg("waiting for composer")

			if err := pub.Accept(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fatalError(err)
			}
			if err := pub.WatchFile(ctx, path, interval); err != nil {
				return fatalError(err)
			}
			return nil
		},
	}

	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "Port to listen on (0 picks a free port)")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "File polling interval")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error|disabled")

	return cmd
}
