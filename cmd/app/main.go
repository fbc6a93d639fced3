package main

import (
	"context"
	"flag"
	"log"
	"os"

	"TeeRelay/internal/di"
	"TeeRelay/pkg/config"

	"github.com/joho/godotenv"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	envFile := flag.String("env", ".env", "optional dotenv file with secrets")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("env file load failed: %v", err)
	}

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s sponsor=%s enclave=%s", cfg.Environment, cfg.Sponsor.Mode, cfg.Enclave.BaseURL)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
