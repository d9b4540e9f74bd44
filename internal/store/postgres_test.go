package store

import (
	"context"
	"os"
	"testing"

	"github.com/nikhilbhutani/ragdesk/internal/config"
	"github.com/nikhilbhutani/ragdesk/internal/database"
	"github.com/nikhilbhutani/ragdesk/migrations"
)

func TestPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runStoreTests(t, func(t *testing.T) Store {
		if _, err := pool.Exec(ctx, `TRUNCATE workspaces CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgres(pool)
	})
}
