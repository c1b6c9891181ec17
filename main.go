package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mixdeck/cmd"
	"mixdeck/config"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "mixdeck",
		Usage: "Queue and download tracks from YouTube, SoundCloud, Spotify and Deezer links",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the HTTP and WebSocket API",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{Name: "port", Usage: "port to listen on (overrides SERVER_PORT)"},
					&cli.IntFlag{Name: "workers", Usage: "concurrent downloads (overrides MIXDECK_WORKERS)"},
				},
				Action: serveAction,
			},
			{
				Name:      "fetch",
				Usage:     "Download one or more URLs and exit",
				ArgsUsage: "URL...",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{Name: "source", Usage: "source tag; detected from each URL when omitted"},
					&cli.StringFlag{Name: "title", Usage: "track title; defaults to the URL"},
					&cli.StringFlag{Name: "artist", Usage: "track artist"},
					&cli.IntFlag{Name: "workers", Usage: "concurrent downloads (overrides MIXDECK_WORKERS)"},
				},
				Action: fetchAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logrus.WithError(err).Error("mixdeck failed")
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "environment file path",
		Value: ".env",
	}
}

// loadConfig reads configuration and applies flag overrides common to every command
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("workers") {
		cfg.Workers = int(c.Int("workers"))
	}
	if c.IsSet("port") {
		cfg.Port = int(c.Int("port"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveAction(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return cmd.StartWebServer(ctx, cfg)
}

func fetchAction(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("fetch needs at least one URL")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	return cmd.Fetch(ctx, cfg, cmd.FetchOptions{
		URLs:   c.Args().Slice(),
		Source: c.String("source"),
		Title:  c.String("title"),
		Artist: c.String("artist"),
	}, os.Stderr)
}
