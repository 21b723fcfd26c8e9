package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/app"
	"github.com/florianilch/sessionkeeper/internal/observability"
	"github.com/florianilch/sessionkeeper/internal/pipeline"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessionkeeper",
		Usage: "Session-keeping client for the user management API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "log exporter (none|stdout|otlp-grpc|otlp-http)",
				Value: string(app.DefaultConfigTelemetry),
			},
			&cli.StringFlag{
				Name:  "upstream--base-url",
				Usage: "backend API base URL",
				Value: app.DefaultConfigUpstreamBaseURL,
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "session storage (file|keyring|bolt|memory|env)",
				Value: string(app.DefaultConfigStorage),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			loginCommand(),
			signupCommand(),
			logoutCommand(),
			statusCommand(),
			tokenCommand(),
			passwordCommand(),
			usersCommand(),
			configCommand(),
		},
	}
}

// withApp loads configuration, installs logging and runs fn against a
// hydrated App that is closed afterwards.
func withApp(ctx context.Context, cmd *cli.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.ObservabilitySettings())
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() { _ = application.Close() }()

	return explain(fn(ctx, application))
}

// explain turns session failures into actionable messages.
func explain(err error) error {
	var reauthErr *pipeline.ReauthFailedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &reauthErr):
		return fmt.Errorf("session expired, run login again: %w", err)
	case errors.Is(err, api.ErrNotAuthenticated):
		return fmt.Errorf("not logged in, run login first: %w", err)
	default:
		return err
	}
}
