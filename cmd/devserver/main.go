// Command devserver serves the image, annotation and segmentation endpoints
// locally so the annotator can run without the production backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seg-annotator/internal/config"
	"seg-annotator/internal/devserver"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
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

	logging.Logger.Info("starting dev server",
		zap.String("version", version.Version),
		zap.String("build_time", version.BuildTime),
		zap.String("git_commit", version.GitCommit))

	if err := os.MkdirAll(cfg.DevServer.UploadDir, 0755); err != nil {
		logging.Logger.Fatal("failed to create upload directory", zap.Error(err))
	}

	store := devserver.NewStore(context.Background(), &cfg.DevServer)
	defer store.Close()

	if cfg.Log.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := devserver.NewServer(&cfg.DevServer, store).Router()

	logging.Logger.Info("server starting",
		zap.String("port", cfg.DevServer.Port),
		zap.String("storage", cfg.DevServer.Storage),
		zap.String("upload_dir", cfg.DevServer.UploadDir))
	if err := r.Run(cfg.DevServer.Port); err != nil {
		logging.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
