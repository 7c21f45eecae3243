package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"citizen-portal/internal/auth"
	"citizen-portal/internal/db"
)

type seedEntry struct {
	NIK               string `json:"nik"`
	FullName          string `json:"fullName"`
	Email             string `json:"email"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	Role              string `json:"role"`
	MustResetPassword bool   `json:"mustResetPassword"`
}

func main() {
	datasetPath := flag.String("file", "data/seed-users.json", "path to the seed dataset (JSON array)")
	migrate := flag.Bool("migrate", true, "apply pending migrations before seeding")
	flag.Parse()

	_ = godotenv.Load()

	if env := strings.TrimSpace(os.Getenv("SEED_DATASET")); env != "" {
		*datasetPath = env
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("missing required env: DATABASE_URL")
	}

	raw, err := os.ReadFile(*datasetPath)
	if err != nil {
		log.Fatalf("read dataset: %v", err)
	}

	var entries []seedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Fatalf("parse dataset: %v", err)
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	if *migrate {
		if err := db.RunMigrations(database); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
	}

	hasher := auth.NewHasher(auth.DefaultHashParams())
	repo := auth.NewRepository(database)
	ctx := context.Background()

	seeded := 0
	for _, entry := range entries {
		nik, ok := auth.NormalizeNIK(entry.NIK)
		if !ok || strings.TrimSpace(entry.FullName) == "" || entry.Password == "" {
			log.Printf("skipping incomplete entry (nik=%q)", entry.NIK)
			continue
		}

		hash, err := hasher.Hash(entry.Password)
		if err != nil {
			log.Fatalf("hash password for %s: %v", nik, err)
		}

		username := strings.TrimSpace(entry.Username)
		if username == "" {
			username = nik
		}

		err = repo.UpsertSeedUser(ctx, auth.SeedInput{
			NIK:               nik,
			FullName:          strings.TrimSpace(entry.FullName),
			Email:             strings.TrimSpace(entry.Email),
			Username:          username,
			PasswordHash:      hash,
			Role:              entry.Role,
			MustResetPassword: entry.MustResetPassword,
		})
		if err != nil {
			log.Fatalf("seed %s: %v", nik, err)
		}

		seeded++
		log.Printf("seeded account %s (%s)", nik, strings.TrimSpace(entry.FullName))
	}

	log.Printf("done: %d account(s) processed", seeded)
}
