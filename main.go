package main

import (
	"embed"
	"os"

	"tciasync-desktop/internal/config"
	"tciasync-desktop/internal/shared"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	logger := shared.NewLogger(os.Stderr)

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	shared.SetLogLevel(logger, cfg.Log.Level)

	app := NewApp(cfg, logger)

	err = wails.Run(&options.App{
		Title:     "TCIA Sync",
		Width:     1280,
		Height:    800,
		MinWidth:  960,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logger.Fatal("Application error", "error", err)
	}
}
