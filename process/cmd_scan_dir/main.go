// Command cmd_scan_dir recognizes every image dropped into an inbox
// directory and records the plate, zone and city next to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/city"
	"parkingbolid/pkg/config"
	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/logging"
	"parkingbolid/pkg/ocr"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/scan"
	"parkingbolid/pkg/store"
	"parkingbolid/process/report"
	"parkingbolid/process/scanner"
)

type logNotifier struct{ log zerolog.Logger }

func (n logNotifier) Notify(_ context.Context, msg string) {
	n.log.Info().Str("notice", msg).Msg("scan notice")
}

func main() {
	dir := flag.String("dir", "inbox", "directory to scan for images")
	watch := flag.Bool("watch", false, "keep watching the directory for new files")
	retry := flag.Bool("retry-failed", false, "move failed images back into the inbox before scanning")
	workers := flag.Int("workers", 0, "worker pool size (default scanner.workers)")
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	if *workers <= 0 {
		*workers = cfg.Scanner.Workers
	}

	catalog, err := refdata.Load(cfg.Reference.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load reference data")
	}
	resolver := city.NewResolver(catalog)

	st, closeStore, err := store.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open preference store")
	}
	defer closeStore()

	rec, err := ocr.NewTesseractRecognizer(log, cfg.OCR.Language, cfg.OCR.Whitelist)
	if err != nil {
		log.Fatal().Err(err).Msg("tesseract unavailable")
	}
	defer rec.Close()

	prep := imagery.NewPreprocessorFromOptions(log, imagery.Options{
		Grayscale:      cfg.Scan.Preprocess.Grayscale,
		Contrast:       cfg.Scan.Preprocess.Contrast,
		Threshold:      cfg.Scan.Preprocess.Threshold,
		Denoise:        cfg.Scan.Preprocess.Denoise,
		ContrastAmount: cfg.Scan.ContrastAmount,
		ThresholdBias:  cfg.Scan.ThresholdBias,
	})
	cropper := imagery.NewFileCropper("")

	process := func(ctx context.Context, path string) (any, error) {
		regions, err := detect.ReadRegionsFile(detect.RegionsPath(path))
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("ignoring regions file")
		}
		var detector detect.Detector
		if regions != nil {
			detector = regions
		}
		p, err := scan.New(scan.Config{
			Recognizer:    rec,
			Cropper:       cropper,
			Preprocessor:  prep,
			Detector:      detect.NewAggregator(detector, log),
			Resolver:      resolver,
			Store:         st,
			Notifier:      logNotifier{log: log},
			RegionWorkers: cfg.Scan.RegionWorkers,
		}, log)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		p.Start(ctx)
		if _, err := p.Load(imagery.ImageRef(path)); err != nil {
			return nil, err
		}
		if _, err := p.Recognize(ctx); err != nil {
			return report.Record{Snapshot: p.Snapshot()}, err
		}
		conf, err := p.Confirm(ctx)
		if err != nil {
			return report.Record{Snapshot: p.Snapshot()}, err
		}
		return report.Record{Snapshot: p.Snapshot(), Confirmation: &conf}, nil
	}

	s, err := scanner.New(scanner.Config{
		Dir:      *dir,
		Workers:  *workers,
		Debounce: cfg.Scanner.Debounce,
	}, process, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scanner config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *retry {
		if _, err := s.RequeueFailed(); err != nil {
			log.Fatal().Err(err).Msg("requeue failed scans")
		}
	}
	files, err := scanner.ListImages(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("cannot read inbox")
	}
	log.Info().Int("files", len(files)).Int("workers", *workers).Msg("scanning inbox")
	results, err := s.Run(ctx, files)
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	log.Info().Int("files", len(results)).Int("failed", failed).Msg("inbox scanned")
	if err != nil || !*watch {
		return
	}
	if err := s.Watch(ctx); err != nil {
		log.Error().Err(err).Msg("watch failed")
	}
}
