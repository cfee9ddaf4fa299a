package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
)

func newTestPostgres(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("DB_HOST not set")
	}
	dsn := fmt.Sprintf("host=%s port=5432 user=%s password=%s dbname=%s sslmode=disable",
		host, envOr("DB_USER", "operator"), os.Getenv("DB_PASSWORD"), envOr("DB_NAME", "beacond_test"))

	db, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPostgresImplants(t *testing.T) {
	runImplantContract(t, NewPostgresImplants(newTestPostgres(t)))
}

func TestPostgresTasks(t *testing.T) {
	runTaskContract(t, NewPostgresTasks(newTestPostgres(t)))
}

func TestPostgresTasks_ConcurrentDrain(t *testing.T) {
	runConcurrentDrainContract(t, NewPostgresTasks(newTestPostgres(t)))
}

func TestPostgresTaskTypes(t *testing.T) {
	runTaskTypeContract(t, NewPostgresTaskTypes(newTestPostgres(t)))
}
