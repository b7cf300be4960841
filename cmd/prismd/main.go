// Package main is the entry point for the prism runtime daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prismrt/prism/bootstrap"
	"github.com/prismrt/prism/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	watch := flag.Bool("watch", false, "Reload configuration on change")
	flag.Parse()

	if *showVersion {
		fmt.Printf("prismd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	loader := config.NewLoader()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = loader.LoadFromFile(*configPath)
	} else {
		cfg, err = loader.AutoLoad()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *validate {
		fmt.Printf("Configuration valid\n")
		fmt.Printf("  Environment: %s\n", cfg.App.Environment)
		fmt.Printf("  Bridge: enabled=%v addr=%s\n", cfg.Bridge.Enabled, cfg.BridgeAddr())
		os.Exit(0)
	}

	app, err := bootstrap.NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	if *watch && *configPath != "" {
		if err := app.WatchConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := app.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
