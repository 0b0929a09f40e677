package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/memtree/internal"
	pkgconfig "github.com/starford/memtree/pkg/config"
)

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := internal.NewDefaultConfig()

	// The config file is optional unless named explicitly.
	configPath := cmd.String("config")
	var err error
	if cmd.IsSet("config") {
		err = pkgconfig.Read(configPath, cfg)
	} else {
		_, err = pkgconfig.ReadOptional(configPath, cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("memory-file") {
		cfg.Memory.File = cmd.String("memory-file")
	}
	if cmd.IsSet("transport") {
		cfg.App.Transport = cmd.String("transport")
	}
	if cmd.IsSet("watch") {
		cfg.Memory.Watch = cmd.Bool("watch")
	}
	if err := pkgconfig.Validate(cfg); err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "memtree",
		Usage:  "Hierarchical memory store for LLM agents, served over MCP",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (optional)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "memory-file",
				Aliases: []string{"f"},
				Usage:   "Path to the memory file",
				Sources: cli.EnvVars("MEMORY_FILE"),
			},
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Usage:   "MCP transport: stdio or http",
				Sources: cli.EnvVars("APP_TRANSPORT"),
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Reload the memory file when it is changed by another process",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
