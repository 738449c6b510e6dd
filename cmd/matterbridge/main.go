package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/matterbridge/common/version"
	"github.com/bdobrica/matterbridge/internal/matterbridge/app"
	"github.com/bdobrica/matterbridge/internal/matterbridge/config"
)

func main() {
	fmt.Printf("matterbridge\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	slog.SetLogLoggerLevel(parseLevel(cfg.LogLevel))

	bridge, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize matterbridge: %v\n", err)
		os.Exit(1)
	}
	defer bridge.Stop()

	if err := bridge.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running matterbridge: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
