package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parkingbolid/pkg/config"
	"parkingbolid/pkg/logging"
	"parkingbolid/pkg/ocr"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/scan"
)

func main() {
	configPath := flag.String("config", "", "config file (default ./config.* when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)

	// `parkingbolid migrate` creates the tables and exits. Useful for CI or
	// manual DB setup.
	if flag.Arg(0) == "migrate" {
		if err := runMigrations(cfg.Database); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("migration completed")
		return
	}

	st, closeStore, err := initStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open preference store")
	}
	defer closeStore()

	catalog, err := refdata.Load(cfg.Reference.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load reference data")
	}

	rec, closeRec := newRecognizer(cfg.OCR, log)
	defer closeRec()

	srv := newServer(cfg, log, catalog, st, rec)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv.load(ctx)

	if cfg.Reference.Dir != "" {
		go func() {
			if err := refdata.Watch(ctx, cfg.Reference.Dir, 0, log, srv.applyCatalog); err != nil {
				log.Warn().Err(err).Msg("reference reload disabled")
			}
		}()
	}

	if cfg.Scan.IdleTimeout > 0 {
		go srv.sweepScans(ctx, cfg.Scan.IdleTimeout)
	}

	r := gin.Default()
	srv.setupRoutes(r)

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.Addr).Int("cities", len(catalog.Cities())).Msg("server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server stopped")
	}
}

// newRecognizer starts Tesseract. When it cannot start the server still
// runs and every recognition fails with a notice.
func newRecognizer(cfg config.OCRConfig, log zerolog.Logger) (scan.Recognizer, func()) {
	rec, err := ocr.NewTesseractRecognizer(log, cfg.Language, cfg.Whitelist)
	if err != nil {
		log.Error().Err(err).Msg("tesseract unavailable, recognition disabled")
		return unavailableRecognizer{err: err}, func() {}
	}
	return rec, func() { _ = rec.Close() }
}
