package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/proofy/proofy-go/cache"
	"github.com/proofy/proofy-go/config"
	"github.com/proofy/proofy-go/results"
)

const AppName = "proofy"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Operate on locally backed-up test results and cached attachments",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:  "output-dir",
					Usage: "Output directory holding backups and the attachment cache (defaults to PROOFY_OUTPUT_DIR)",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands,
		&cli.Command{
			Name:   "merge",
			Usage:  "Merge per-worker result backups into the canonical results.json (run only after all workers have exited)",
			Action: app.merge,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "archive",
					Usage: "Also package cached attachments into artifacts.zip",
				},
			},
		},
		&cli.Command{
			Name:   "archive",
			Usage:  "Package cached attachments into artifacts.zip",
			Action: app.archive,
		},
		&cli.Command{
			Name:   "clean",
			Usage:  "Remove all files from the attachment cache",
			Action: app.clean,
		},
	)
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

func (a *App) outputDir(ctx *cli.Context) (string, error) {
	if dir := ctx.String("output-dir"); dir != "" {
		return dir, nil
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.OutputDir, nil
}

func (a *App) merge(ctx *cli.Context) error {
	outputDir, err := a.outputDir(ctx)
	if err != nil {
		return err
	}

	count, err := results.MergeWorkerResults(outputDir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to merge worker results: %w", err)
	}
	if count == 0 {
		a.logger.Info().Str("dir", outputDir).Msg("No worker result files found")
		return nil
	}

	if ctx.Bool("archive") {
		if _, err := results.ArchiveAttachments(outputDir, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) archive(ctx *cli.Context) error {
	outputDir, err := a.outputDir(ctx)
	if err != nil {
		return err
	}

	archivePath, err := results.ArchiveAttachments(outputDir, a.logger)
	if err != nil {
		return err
	}
	if archivePath == "" {
		a.logger.Info().Str("dir", outputDir).Msg("No cached attachments to archive")
	}
	return nil
}

func (a *App) clean(ctx *cli.Context) error {
	outputDir, err := a.outputDir(ctx)
	if err != nil {
		return err
	}

	if err := cache.New(outputDir).Clear(); err != nil {
		return fmt.Errorf("failed to clear attachment cache: %w", err)
	}
	a.logger.Info().Str("dir", outputDir).Msg("Attachment cache cleared")
	return nil
}
