package main

import (
	"log"

	"github.com/ctrl-labs/ctrl-gateway/internal/app"
	"github.com/ctrl-labs/ctrl-gateway/internal/config"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	cfg, err := config.LoadFromFile("config.yaml")
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	gateway := app.New(cfg)

	log.Println("Starting ctrl-gateway...")
	if err := gateway.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
