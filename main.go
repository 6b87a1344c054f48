package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bbqjohan/yt-downloader/cmd"
	"github.com/bbqjohan/yt-downloader/config"
	"github.com/bbqjohan/yt-downloader/services"
	"github.com/bbqjohan/yt-downloader/types"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := cli.App{
		Name:  "yt-downloader",
		Usage: "queue video downloads and follow their progress",
		Commands: []*cli.Command{{
			Name:        "serve",
			Description: "start the HTTP and websocket server",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:  "env-file",
					Usage: "dotenv files to load before reading YTDL_* variables. Defaults to .env",
				},
			},
			Action: serve,
		}, {
			Name:        "replay",
			Usage:       "replay a recorded download for one or more urls",
			ArgsUsage:   "URL [URL...]",
			Description: "runs each url through the download queue using a recorded script or transcript",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "script",
					Aliases:  []string{"s"},
					Usage:    "YAML script or raw transcript to replay",
					Required: true,
				},
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "output directory. Defaults to the configured download location",
				},
				&cli.StringFlag{
					Name:  "audio-format",
					Usage: "audio format id to request",
				},
				&cli.StringFlag{
					Name:  "video-format",
					Usage: "video format id to request",
				},
				&cli.DurationFlag{
					Name:  "step",
					Usage: "delay between replayed events",
					Value: 100 * time.Millisecond,
				},
			},
			Action: replay,
		}},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(envFiles []string) (*config.Config, *zap.Logger, error) {
	cfg, warnings, err := config.LoadConfig(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	for _, warning := range warnings {
		logger.Debug(warning)
	}
	return cfg, logger, nil
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c.StringSlice("env-file"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("download_location", cfg.DownloadLocation),
		zap.Bool("replay", cfg.ScriptDir != ""))

	return cmd.StartWebServer(c.Context, cfg, logger)
}

func replay(c *cli.Context) error {
	urls := c.Args().Slice()
	if len(urls) == 0 {
		return cli.Exit("at least one url is required", 2)
	}

	cfg, logger, err := loadConfig(nil)
	if err != nil {
		return err
	}
	defer logger.Sync()

	script, err := services.LoadScript(c.String("script"))
	if err != nil {
		return err
	}

	outputDir := c.String("output")
	if outputDir == "" {
		outputDir = cfg.DownloadLocation
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	invoker := services.NewReplayInvoker(script, c.Duration("step"), logger).
		WithFragmentThreads(cfg.FragmentThreads)
	bars := newProgressBars(os.Stderr)
	queue := services.NewDownloadQueue(ctx, invoker, logger, bars)

	for _, url := range urls {
		request := types.DownloadRequest{URL: url, OutputDir: outputDir}
		if id := c.String("audio-format"); id != "" {
			request.AudioFormat = &types.Format{FormatID: id}
		}
		if id := c.String("video-format"); id != "" {
			request.VideoFormat = &types.Format{FormatID: id}
		}
		if _, err := queue.Submit(request); err != nil {
			logger.Warn("download not queued", zap.String("url", url), zap.Error(err))
		}
	}

	if err := bars.Wait(ctx, queue); err != nil {
		return err
	}

	failed := 0
	for _, item := range queue.GetAllItems() {
		if item.Status != types.ItemStatusErrored {
			continue
		}
		failed++
		if item.Error != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", item.Label, item.Error.Message)
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d downloads failed", failed, len(urls)), 1)
	}
	return nil
}
