package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mklimuk/newjoy/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "newjoy"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, config.Date, config.Commit)
	app.Usage = "sensor sampling and nRF24 link cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable verbose logging and wire dumps",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "also write logs to a rotated file",
		},
	}
	var logFile *lumberjack.Logger
	app.Before = func(ctx *cli.Context) error {
		var out io.Writer = os.Stdout
		if path := ctx.String("log-file"); path != "" {
			logFile = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			out = io.MultiWriter(os.Stdout, logFile)
		}
		charm := chlog.NewWithOptions(out, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Prefix:          "nj",
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}
	app.Commands = cli.Commands{
		&scanCmd,
		&readCmd,
		&sampleCmd,
		&radioCmd,
		&airCmd,
		&gpioCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		slog.Error("command failed", "error", err)
		return 1
	}
	return 0
}
