// Command scanimage runs one image through recognition and prints the
// result as JSON. Useful for tuning preprocessing and region boxes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/city"
	"parkingbolid/pkg/config"
	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/logging"
	"parkingbolid/pkg/ocr"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/scan"
)

type stderrNotifier struct{}

func (stderrNotifier) Notify(_ context.Context, msg string) {
	fmt.Fprintln(os.Stderr, "notice:", msg)
}

func main() {
	img := flag.String("image", "", "image file to scan")
	regionsPath := flag.String("regions", "", "JSON file with detected regions (default <image>.regions.json)")
	crop := flag.String("crop", "", `crop before recognition, as JSON {"x":..,"y":..,"width":..,"height":..}`)
	configPath := flag.String("config", "", "config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()
	if *img == "" {
		fmt.Fprintln(os.Stderr, "-image required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Log.Format = "console"
	log := logging.NewWithWriter(cfg.Log, os.Stderr)

	if err := run(context.Background(), cfg, log, *img, *regionsPath, *crop); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, img, regionsPath, crop string) error {
	catalog, err := refdata.Load(cfg.Reference.Dir)
	if err != nil {
		return err
	}
	if regionsPath == "" {
		regionsPath = detect.RegionsPath(img)
	}
	regions, err := detect.ReadRegionsFile(regionsPath)
	if err != nil {
		return err
	}
	var detector detect.Detector
	if regions != nil {
		detector = regions
	}

	rec, err := ocr.NewTesseractRecognizer(log, cfg.OCR.Language, cfg.OCR.Whitelist)
	if err != nil {
		return err
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
	log.Debug().Strs("stages", prep.Stages()).Msg("preprocessing")

	p, err := scan.New(scan.Config{
		Recognizer:    rec,
		Cropper:       imagery.NewFileCropper(""),
		Preprocessor:  prep,
		Detector:      detect.NewAggregator(detector, log),
		Resolver:      city.NewResolver(catalog),
		Notifier:      stderrNotifier{},
		RegionWorkers: cfg.Scan.RegionWorkers,
	}, log)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := p.Load(imagery.ImageRef(img)); err != nil {
		return err
	}
	if crop != "" {
		var rect imagery.Rect
		if err := json.Unmarshal([]byte(crop), &rect); err != nil {
			return fmt.Errorf("parse -crop: %w", err)
		}
		if _, err := p.EditImage(ctx, rect); err != nil {
			return err
		}
	}
	if _, err := p.Recognize(ctx); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p.Snapshot())
}
