package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/aegis/exitengine/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	return &config.Config{Database: config.DatabaseConfig{
		URL:             url,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}}
}

func TestNew_HealthCheck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	status := db.HealthCheck(ctx)
	if !status.Healthy {
		t.Errorf("Expected healthy database, got error %q", status.Error)
	}
	if status.MaxConns != 4 {
		t.Errorf("Expected MaxConns 4, got %d", status.MaxConns)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	err = db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE tx_scratch (id int) ON COMMIT DROP`); err != nil {
			return err
		}
		return context.Canceled
	})
	if err != context.Canceled {
		t.Errorf("Expected fn error to propagate, got %v", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), &config.Config{Database: config.DatabaseConfig{URL: "://bad"}})
	if err == nil {
		t.Error("Expected parse error")
	}
}
