package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"markdown-composer/internal/app"
	"markdown-composer/internal/config"
	"markdown-composer/internal/contracts"
	"markdown-composer/internal/ingest"
	"markdown-composer/internal/launch"
	"markdown-composer/internal/logging"
)

type composeFlags struct {
	configPath     string
	noBrowser      bool
	browser        string
	highlightTheme string
	addr           string
	root           string
	logLevel       string
}

func composeCmd() *cobra.Command {
	var flags composeFlags

	cmd := &cobra.Command{
		Use:   "markdown-composer [flags] <nvim-port> [<initial-markdown>]",
		Short: "Live markdown preview fed by an editor over TCP",
		Long: `markdown-composer connects to an editor listening on localhost:<nvim-port>,
reads MessagePack-encoded markdown snapshots and renders each one in a
browser preview that updates without a refresh.

The process exits 0 when the editor disconnects.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags, args)
			if err != nil {
				return usageError(err)
			}

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return usageError(fmt.Errorf("log level: %w", err))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var launcher contracts.Launcher
			if !cfg.NoBrowser {
				launcher = launch.NewBrowser(cfg.Browser)
			}
			return compose(ctx, cfg, launcher, logger)
		},
	}

	bindComposeFlags(cmd, &flags)

	return cmd
}

func bindComposeFlags(cmd *cobra.Command, flags *composeFlags) {
	fs := cmd.Flags()
	fs.StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	fs.BoolVar(&flags.noBrowser, "no-browser", false, "Don't open the web browser automatically")
	fs.StringVar(&flags.browser, "browser", "", "Browser executable to open instead of the default")
	fs.StringVar(&flags.highlightTheme, "highlight-theme", config.DefaultHighlightTheme, "Syntax highlighting theme")
	fs.StringVar(&flags.addr, "addr", config.DefaultAddr, "Preview HTTP listen address")
	fs.StringVar(&flags.root, "root", "", "Directory for resolving relative image paths")
	fs.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "trace|debug|info|warn|error|disabled")
}

// resolveConfig layers defaults, the optional config file, explicitly set
// flags and positional arguments.
func resolveConfig(cmd *cobra.Command, flags composeFlags, args []string) (config.Config, error) {
	cfg := config.Default()

	if flags.configPath != "" {
		loaded, err := config.LoadFile(cfg, flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("no-browser") {
		cfg.NoBrowser = flags.noBrowser
	}
	if changed("browser") {
		cfg.Browser = flags.browser
	}
	if changed("highlight-theme") {
		cfg.HighlightTheme = flags.highlightTheme
	}
	if changed("addr") {
		cfg.Addr = flags.addr
	}
	if changed("root") {
		cfg.Root = flags.root
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	port, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid nvim-port %q: %w", args[0], err)
	}
	cfg.EditorPort = uint16(port)

	if len(args) > 1 {
		cfg.InitialMarkdown = args[1]
		cfg.HasInitial = true
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// compose starts the preview, opens the browser and runs ingestion until
// the editor goes away. launcher may be nil.
func compose(ctx context.Context, cfg config.Config, launcher contracts.Launcher, logger zerolog.Logger) error {
	preview := app.NewLivePreview(app.Options{
		Addr:    cfg.Addr,
		Theme:   cfg.HighlightTheme,
		BaseDir: cfg.Root,
		Logger:  logging.Component(logger, "preview"),
	})
	if err := preview.Start(); err != nil {
		logger.Error().Err(err).Msg("preview server failed to start")
		return loggedFatalError(err)
	}
	defer func() {
		if err := preview.Stop(); err != nil {
			logger.Warn().Err(err).Msg("preview server shutdown")
		}
	}()

	if cfg.HasInitial {
		preview.Update(cfg.InitialMarkdown)
	}

	url := preview.URL()
	logger.Info().Str("url", url).Msg("preview ready")

	if launcher != nil {
		if err := launcher.Open(url); err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("could not open browser")
		}
	}

	term, err := ingest.Run(ctx, ingest.Options{
		Port:        cfg.EditorPort,
		DialTimeout: cfg.DialTimeout,
		Renderer:    preview,
		Logger:      logging.Component(logger, "ingest"),
	})
	if err != nil {
		var connectErr *ingest.ConnectError
		var malformed *ingest.MalformedStreamError
		switch {
		case errors.As(err, &connectErr):
			logger.Error().Err(err).Uint16("port", connectErr.Port).Msg("cannot reach editor")
		case errors.As(err, &malformed):
			logger.Error().Err(err).Int("frames", malformed.Frames).Msg("aborting on malformed editor stream")
		default:
			logger.Error().Err(err).Msg("ingestion failed")
		}
		return loggedFatalError(err)
	}

	logger.Info().Int("frames", term.Frames).Msg("editor closed the connection")
	return nil
}
