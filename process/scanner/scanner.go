// Package scanner runs a processing function over the images of an inbox
// directory, once for the files already there and, when watching, for every
// new file. Each handled image is moved to a processed or failed folder next
// to a JSON sidecar describing the outcome.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProcessFunc handles one image. The returned value is written to the
// sidecar; an error sends the image to the failed folder.
type ProcessFunc func(ctx context.Context, path string) (any, error)

type Config struct {
	Dir      string
	Workers  int
	Debounce time.Duration
	// ProcessedDir and FailedDir default to Dir/processed and Dir/failed.
	ProcessedDir string
	FailedDir    string
}

// Outcome is what the sidecar of an image holds.
type Outcome struct {
	File        string    `json:"file"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// Failed reports whether processing returned an error.
func (o Outcome) Failed() bool { return o.Error != "" }

type Scanner struct {
	cfg     Config
	process ProcessFunc
	log     zerolog.Logger
}

func New(cfg Config, fn ProcessFunc, log zerolog.Logger) (*Scanner, error) {
	if cfg.Dir == "" {
		return nil, errors.New("scanner: dir is required")
	}
	if fn == nil {
		return nil, errors.New("scanner: process func is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.Dir, "processed")
	}
	if cfg.FailedDir == "" {
		cfg.FailedDir = filepath.Join(cfg.Dir, "failed")
	}
	return &Scanner{cfg: cfg, process: fn, log: log.With().Str("inbox", cfg.Dir).Logger()}, nil
}

// IsSupportedExt reports whether name looks like an image we can scan.
// Scratch files written by the OCR tools are skipped.
func IsSupportedExt(name string) bool {
	if strings.Contains(name, ".ocr.") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// ListImages returns the sorted names of the supported images in dir.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() || !IsSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Run processes names with the worker pool and returns their outcomes in
// the same order. A cancelled context stops picking up new files; those
// are reported as failed with the context error and stay in the inbox.
func (s *Scanner) Run(ctx context.Context, names []string) ([]Outcome, error) {
	out := make([]Outcome, len(names))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			out[i] = Outcome{File: name, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			out[i] = s.handle(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}

// Watch processes images created in the inbox until ctx is done. A file is
// picked up once it has not changed for the debounce interval.
func (s *Scanner) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.cfg.Dir); err != nil {
		return err
	}
	s.log.Info().Dur("debounce", s.cfg.Debounce).Msg("watching inbox")

	files := make(chan string, 256)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for name := range files {
				s.handle(gctx, name)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(files)
		pending := map[string]time.Time{}
		ticker := time.NewTicker(s.cfg.Debounce / 2)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if name := filepath.Base(ev.Name); IsSupportedExt(name) {
					pending[name] = time.Now()
				}
			case <-ticker.C:
				for name, t := range pending {
					if time.Since(t) < s.cfg.Debounce {
						continue
					}
					delete(pending, name)
					select {
					case files <- name:
					case <-gctx.Done():
						return nil
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				s.log.Warn().Err(err).Msg("watch error")
			}
		}
	})
	return g.Wait()
}

// RequeueFailed moves the images in the failed folder back into the inbox
// and drops their sidecars, so the next run tries them again.
func (s *Scanner) RequeueFailed() ([]string, error) {
	names, err := ListImages(s.cfg.FailedDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := moveFile(filepath.Join(s.cfg.FailedDir, name), s.cfg.Dir, name); err != nil {
			return nil, err
		}
		if err := os.Remove(filepath.Join(s.cfg.FailedDir, name+".json")); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("file", name).Msg("remove sidecar")
		}
	}
	s.log.Info().Int("files", len(names)).Msg("requeued failed scans")
	return names, nil
}

func (s *Scanner) handle(ctx context.Context, name string) Outcome {
	src := filepath.Join(s.cfg.Dir, name)
	if _, err := os.Stat(src); err != nil {
		s.log.Debug().Str("file", name).Msg("file vanished before processing")
		return Outcome{File: name, Error: err.Error()}
	}
	start := time.Now()
	res, err := s.process(ctx, src)
	out := Outcome{
		File:        name,
		Result:      res,
		ProcessedAt: time.Now().UTC(),
		DurationMS:  time.Since(start).Milliseconds(),
	}
	dest := s.cfg.ProcessedDir
	if err != nil {
		out.Error = err.Error()
		if ctx.Err() != nil {
			// interrupted, leave it for the next run
			return out
		}
		dest = s.cfg.FailedDir
		s.log.Warn().Err(err).Str("file", name).Msg("scan failed")
	} else {
		s.log.Info().Str("file", name).Int64("ms", out.DurationMS).Msg("scanned")
	}
	if err := moveFile(src, dest, name); err != nil {
		s.log.Error().Err(err).Str("file", name).Str("dest", dest).Msg("move failed")
		return out
	}
	if err := writeSidecar(filepath.Join(dest, name+".json"), out); err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("write sidecar")
	}
	return out
}

func moveFile(src, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

// copyRemove moves across devices where rename fails.
func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func writeSidecar(path string, o Outcome) error {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
