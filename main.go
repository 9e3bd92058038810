// Package main provides the entry point for the segmentation annotator.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	fyneapp "fyne.io/fyne/v2/app"
	"go.uber.org/zap"

	"seg-annotator/internal/app"
	"seg-annotator/internal/backend"
	"seg-annotator/internal/config"
	"seg-annotator/internal/image"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/version"
	"seg-annotator/ui/dialogs"
	"seg-annotator/ui/mainwindow"
	"seg-annotator/ui/prefs"
)

const appID = "io.segannotator.desktop"

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config file] [image-id]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.New()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := logging.Init(cfg.Log.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	logging.Logger.Info("starting annotator",
		zap.String("version", version.Version),
		zap.String("build_time", version.BuildTime),
		zap.String("git_commit", version.GitCommit),
		zap.String("backend", cfg.Backend.BaseURL))

	client, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if err != nil {
		logging.Logger.Fatal("invalid backend configuration", zap.Error(err))
	}

	ann := app.New(app.Options{
		Config:  cfg,
		Backend: client,
		Fetcher: image.NewFetcher(&http.Client{Timeout: cfg.Backend.Timeout}),
	})

	appPrefs := prefs.Load()
	restoreBrush(ann, appPrefs)

	a := fyneapp.NewWithID(appID)
	a.Settings().SetTheme(app.NewTheme(ann.Brush()))

	win := mainwindow.New(a, ann, appPrefs)
	win.SetMaster()
	win.SetCloseIntercept(func() {
		win.Shutdown()
		win.Close()
	})

	if arg := flag.Arg(0); arg != "" {
		id, err := dialogs.ParseImageID(arg)
		if err != nil {
			logging.Logger.Fatal("invalid image id", zap.String("arg", arg), zap.Error(err))
		}
		win.LoadImage(id)
	}

	win.ShowAndRun()
}

// restoreBrush applies the brush saved by the previous run. Invalid saved
// colors keep the configured ones.
func restoreBrush(ann *app.Annotator, p *prefs.Prefs) {
	b := p.ApplyBrush(ann.Brush())
	ann.SetBrushSize(b.Size)
	if err := ann.SetObjectColor(b.ObjectColor); err != nil {
		logging.Logger.Warn("ignoring saved object color", zap.Error(err))
	}
	if err := ann.SetBackgroundColor(b.BackgroundColor); err != nil {
		logging.Logger.Warn("ignoring saved background color", zap.Error(err))
	}
}
