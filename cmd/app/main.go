package main

import (
	"flag"
	"log"
	"os"

	"mlass/internal/di"
	"mlass/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path, empty for defaults")
	checkOnly := flag.Bool("check", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *checkOnly {
		log.Printf("config ok: %s", *configPath)
		return
	}

	log.Printf("env=%s data=%s lookback=%d identity=%s/%s",
		cfg.Environment, cfg.Data.Source, cfg.Model.Lookback, cfg.Identity.Mode, cfg.Identity.Policy)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
