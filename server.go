package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/city"
	"parkingbolid/pkg/config"
	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/scan"
	"parkingbolid/pkg/selection"
	"parkingbolid/pkg/store"
	"parkingbolid/pkg/vehicles"
)

var errUnknownScan = errors.New("unknown scan")

// Server holds everything the HTTP handlers share. Reference data can be
// swapped at runtime; scans started before a reload keep the catalog they
// were created with.
type Server struct {
	cfg        *config.Config
	log        zerolog.Logger
	recognizer scan.Recognizer
	cropper    *imagery.FileCropper
	prep       *imagery.Preprocessor
	store      store.Store
	vehicles   *vehicles.Registry
	selection  *selection.State

	mu       sync.RWMutex
	catalog  *refdata.Catalog
	resolver *city.Resolver
	scans    map[string]*scanEntry
}

type scanEntry struct {
	pipeline *scan.Pipeline
	notices  *noticeBuffer
	// upload is the stored image, removed with the scan
	upload string
	// lastUsed is guarded by Server.mu
	lastUsed time.Time
}

func newServer(cfg *config.Config, log zerolog.Logger, catalog *refdata.Catalog, st store.Store, rec scan.Recognizer) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		recognizer: rec,
		cropper:    imagery.NewFileCropper(""),
		prep: imagery.NewPreprocessorFromOptions(log, imagery.Options{
			Grayscale:      cfg.Scan.Preprocess.Grayscale,
			Contrast:       cfg.Scan.Preprocess.Contrast,
			Threshold:      cfg.Scan.Preprocess.Threshold,
			Denoise:        cfg.Scan.Preprocess.Denoise,
			ContrastAmount: cfg.Scan.ContrastAmount,
			ThresholdBias:  cfg.Scan.ThresholdBias,
		}),
		store:     st,
		vehicles:  vehicles.NewRegistry(st, log),
		selection: selection.New(catalog, log),
		catalog:   catalog,
		resolver:  city.NewResolver(catalog),
		scans:     make(map[string]*scanEntry),
	}
	return s
}

// load restores saved state. Failures are logged; the server starts empty.
func (s *Server) load(ctx context.Context) {
	if err := s.vehicles.Load(ctx); err != nil {
		s.log.Warn().Err(err).Msg("starting without saved vehicles")
	}
}

// applyCatalog swaps in reloaded reference data.
func (s *Server) applyCatalog(c *refdata.Catalog) {
	s.mu.Lock()
	s.catalog = c
	s.resolver = city.NewResolver(c)
	s.mu.Unlock()
	s.selection.Reload(c)
}

func (s *Server) reference() (*refdata.Catalog, *city.Resolver) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog, s.resolver
}

// newScan creates a pipeline for the stored image upload. Regions, when
// given, replace object detection.
func (s *Server) newScan(ctx context.Context, upload string, regions detect.Static) (*scanEntry, error) {
	_, resolver := s.reference()
	var detector detect.Detector
	if regions != nil {
		detector = regions
	}
	notices := &noticeBuffer{}
	p, err := scan.New(scan.Config{
		Recognizer:    s.recognizer,
		Cropper:       s.cropper,
		Preprocessor:  s.prep,
		Detector:      detect.NewAggregator(detector, s.log),
		Resolver:      resolver,
		Store:         s.store,
		Notifier:      notices,
		RegionWorkers: s.cfg.Scan.RegionWorkers,
	}, s.log)
	if err != nil {
		return nil, err
	}
	p.Start(ctx)
	e := &scanEntry{pipeline: p, notices: notices, upload: upload, lastUsed: time.Now()}
	s.mu.Lock()
	s.scans[p.ID()] = e
	s.mu.Unlock()
	return e, nil
}

func (s *Server) lookupScan(id string) (*scanEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownScan, id)
	}
	e.lastUsed = time.Now()
	return e, nil
}

// dropScan closes a scan and removes its stored image.
func (s *Server) dropScan(id string) error {
	s.mu.Lock()
	e, ok := s.scans[id]
	delete(s.scans, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownScan, id)
	}
	e.pipeline.Close()
	if e.upload != "" {
		if err := os.Remove(e.upload); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("file", e.upload).Msg("remove scan image")
		}
	}
	return nil
}

// evictIdle drops scans not touched since now-maxIdle and returns how many
// were dropped.
func (s *Server) evictIdle(now time.Time, maxIdle time.Duration) int {
	cutoff := now.Add(-maxIdle)
	s.mu.RLock()
	var ids []string
	for id, e := range s.scans {
		if e.lastUsed.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	n := 0
	for _, id := range ids {
		if s.dropScan(id) == nil {
			n++
		}
	}
	return n
}

// sweepScans evicts abandoned scans until ctx is done.
func (s *Server) sweepScans(ctx context.Context, maxIdle time.Duration) {
	every := maxIdle / 2
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.evictIdle(now, maxIdle); n > 0 {
				s.log.Info().Int("scans", n).Dur("idle", maxIdle).Msg("evicted idle scans")
			}
		}
	}
}

// Close stops every open scan and any running city detection.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.scans))
	for id := range s.scans {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_ = s.dropScan(id)
	}
	s.selection.Close()
}

// noticeBuffer collects user-facing notices of a scan until the next
// response picks them up.
type noticeBuffer struct {
	mu   sync.Mutex
	msgs []string
}

func (b *noticeBuffer) Notify(_ context.Context, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *noticeBuffer) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	if out == nil {
		out = []string{}
	}
	return out
}

// unavailableRecognizer stands in when the OCR engine failed to start, so
// every scan ends in RecognitionFailed instead of the server refusing to run.
type unavailableRecognizer struct{ err error }

func (u unavailableRecognizer) Recognize(context.Context, imagery.ImageRef) ([]string, error) {
	return nil, fmt.Errorf("ocr unavailable: %w", u.err)
}
