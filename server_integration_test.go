package main

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/config"
	"parkingbolid/pkg/store"
)

// TestFullFlowWithPostgres runs the vehicle and selection flow against a
// real database. Integration tests are opt-in: set DB_DSN_TEST=1 and
// PARKING_DATABASE_DSN (or DB_DSN).
func TestFullFlowWithPostgres(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	dsn := os.Getenv("PARKING_DATABASE_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("no database DSN configured")
	}
	cfg := &config.Config{Database: config.DatabaseConfig{DSN: dsn, AutoMigrate: true}}
	st, closeStore, err := initStore(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()
	ctx := context.Background()
	if err := st.Set(ctx, store.KeyVehicles, "[]"); err != nil {
		t.Fatalf("reset vehicles: %v", err)
	}

	ts := newTestServer(t, st)
	rec, resp := ts.do(t, http.MethodPost, "/vehicles", map[string]string{"plate": "NS-234-ZZ"})
	if rec.Code != http.StatusCreated || len(notices(resp)) != 0 {
		t.Fatalf("add vehicle: %d %v", rec.Code, resp)
	}

	// a second server sees the saved list
	again := newTestServer(t, st)
	_, resp = again.do(t, http.MethodGet, "/vehicles", nil)
	if vs, _ := data(t, resp)["vehicles"].([]any); len(vs) != 1 {
		t.Fatalf("vehicles not persisted: %v", resp)
	}
}
