package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = "dev"
)

func main() {
	dotFile := ".env.development"
	if os.Getenv("ENV") == "production" {
		dotFile = ".env.production"
	}
	// flags still work without a dotFile
	_ = godotenv.Load(dotFile)

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
