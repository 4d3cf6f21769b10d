package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/lalith-99/dmstream/internal/commands"
	"github.com/lalith-99/dmstream/internal/observ"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "chatcli",
		Usage:     "Direct messages from the terminal",
		UsageText: "chatcli [global options] command [command options]",
		Version:   version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Usage:       "dmstream server base URL",
				Sources:     cli.EnvVars("DMSTREAM_SERVER"),
				Value:       "http://localhost:8081",
				Destination: &flags.Server,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "access token (overrides the saved one)",
				Sources:     cli.EnvVars("DMSTREAM_TOKEN"),
				Destination: &flags.Token,
			},
			&cli.StringFlag{
				Name:        "token-file",
				Usage:       "where login saves the access token",
				Sources:     cli.EnvVars("DMSTREAM_TOKEN_FILE"),
				Value:       commands.DefaultTokenFile(),
				Destination: &flags.TokenFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("DMSTREAM_LOG_LEVEL"),
				Value:       "warn",
				Destination: &flags.LogLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := observ.NewLogger("development", flags.LogLevel)
			if err != nil {
				return ctx, fmt.Errorf("create logger: %w", err)
			}
			flags.Logger = logger
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if flags.Logger != nil {
				_ = flags.Logger.Sync()
			}
			return nil
		},
	}

	app = commands.NewAuthCmd(flags).Register(app)
	app = commands.NewLsCmd(flags).Register(app)
	app = commands.NewChatCmd(flags).Register(app)

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
