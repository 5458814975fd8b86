package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"credit-marketplace/internal/domain/model"
	pg "credit-marketplace/internal/infra/db/postgres"
)

// Seeds a couple of demo users for local development.
func main() {
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection url")
	migrationsDir := flag.String("migrations", "migrations", "migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	if *dbURL == "" {
		*dbURL = os.Getenv("DATABASE_URL")
	}
	if *dbURL == "" {
		log.Fatal("seed: -db or DATABASE_URL required")
	}

	if err := pg.RunMigrations(*dbURL, *migrationsDir); err != nil {
		log.Fatalf("seed: migrations: %v", err)
	}

	ctx := context.Background()
	pool, err := pg.NewPgxPool(ctx, *dbURL, 2)
	if err != nil {
		log.Fatalf("seed: postgres: %v", err)
	}
	defer pool.Close()

	users := pg.NewUserRepo(pool)
	for _, u := range []*model.User{
		{ID: uuid.NewString(), Username: "alice", TelegramID: 1001},
		{ID: uuid.NewString(), Username: "bob", TelegramID: 1002},
	} {
		if err := users.Save(ctx, nil, u); err != nil {
			log.Fatalf("seed: save user %s: %v", u.Username, err)
		}
		log.Printf("seeded user %s id=%s", u.Username, u.ID)
	}
}
