package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/duetology/internal"
	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/models"
	pkgconfig "github.com/starford/duetology/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg,
		pkgconfig.Optional(),
		pkgconfig.WithEnvPrefix(internal.EnvPrefix),
	); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func seed(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	_, err = internal.Seed(ctx, cmd.String("file"), internal.WithConfig(cfg))
	return err
}

// clientConfig applies the client flags on top of the loaded config.
func clientConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if v := cmd.String("server"); v != "" {
		cfg.Client.Server = v
	}
	if v := cmd.String("token"); v != "" {
		cfg.Client.Token = v
	}
	if cmd.Bool("atomic") {
		cfg.Client.Atomic = true
	}
	return cfg, nil
}

func criteria(cmd *cli.Command) aggregate.Criteria {
	return aggregate.Criteria{
		Category: cmd.String("category"),
		Search:   cmd.String("search"),
		MinScore: int(cmd.Int("min-score")),
	}
}

func ratings(ctx context.Context, cmd *cli.Command) error {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ListRatings(ctx, criteria(cmd), internal.WithConfig(cfg))
}

func confessions(ctx context.Context, cmd *cli.Command) error {
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ListConfessions(ctx, criteria(cmd), internal.WithConfig(cfg))
}

func vote(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: vote <%s|%s> <id>", models.CollectionRatings, models.CollectionConfessions)
	}
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	_, err = internal.Vote(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.Bool("server-guard"), internal.WithConfig(cfg))
	return err
}

func watch(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: watch <%s|%s>", models.CollectionRatings, models.CollectionConfessions)
	}
	cfg, err := clientConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return internal.Watch(ctx, cmd.Args().Get(0), criteria(cmd), internal.WithConfig(cfg))
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "category", Usage: "Department (ratings) or category (confessions); 'all' for every one"},
		&cli.StringFlag{Name: "search", Aliases: []string{"q"}, Usage: "Case-insensitive teacher name filter"},
		&cli.IntFlag{Name: "min-score", Usage: "Minimum stars (0 disables)"},
	}
}

func main() {
	cmd := &cli.Command{
		Name:           "duetology",
		Usage:          "Anonymous confessions and teacher ratings with live updates",
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{Name: "server", Usage: "Server URL for client commands"},
			&cli.StringFlag{Name: "token", Usage: "Bearer token for client commands"},
			&cli.BoolFlag{Name: "atomic", Usage: "Use the server-side atomic increment for votes"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE feed and metrics",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: mcp,
			},
			{
				Name:  "seed",
				Usage: "Import records from a YAML fixtures file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Fixtures file", Required: true},
				},
				Action: seed,
			},
			{
				Name:   "ratings",
				Usage:  "Show teacher summaries and ratings",
				Flags:  filterFlags(),
				Action: ratings,
			},
			{
				Name:   "confessions",
				Usage:  "Show the confessions feed",
				Flags:  filterFlags(),
				Action: confessions,
			},
			{
				Name:      "vote",
				Usage:     "Mark a rating helpful or like a confession",
				ArgsUsage: "<collection> <id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "server-guard", Usage: "Let the server track this device's votes"},
				},
				Action: vote,
			},
			{
				Name:      "watch",
				Usage:     "Follow a collection live",
				ArgsUsage: "<collection>",
				Flags:     filterFlags(),
				Action:    watch,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
