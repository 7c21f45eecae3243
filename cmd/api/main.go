package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"citizen-portal/app"
)

func main() {
	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
	})
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	log.Printf("listening on :%s", port)
	if err := http.ListenAndServe(":"+port, runtime.Handler); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
