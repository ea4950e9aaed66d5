package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

func writeImage(t *testing.T, dir, name string) {
	t.Helper()
	img := imaging.New(8, 8, color.White)
	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
}

func readOutcome(t *testing.T, path string) Outcome {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var o Outcome
	if err := json.Unmarshal(b, &o); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	return o
}

func TestIsSupportedExt(t *testing.T) {
	cases := map[string]bool{
		"a.png":          true,
		"B.JPG":          true,
		"c.jpeg":         true,
		"d.txt":          false,
		"e.ocr.png":      false,
		"f.regions.json": false,
		"noext":          false,
	}
	for name, want := range cases {
		if got := IsSupportedExt(name); got != want {
			t.Fatalf("IsSupportedExt(%q)=%v want %v", name, got, want)
		}
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "b.png")
	writeImage(t, dir, "a.jpg")
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, "sub.png"), 0o755)
	got, err := ListImages(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != "a.jpg" || got[1] != "b.png" {
		t.Fatalf("unexpected listing %v", got)
	}
}

func TestRunMovesFilesAndWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "ok.png")
	writeImage(t, dir, "bad.png")

	var calls atomic.Int32
	fn := func(_ context.Context, path string) (any, error) {
		calls.Add(1)
		if strings.HasSuffix(path, "bad.png") {
			return nil, errors.New("nothing readable")
		}
		return map[string]string{"plate": "BG-234-AB"}, nil
	}
	s, err := New(Config{Dir: dir, Workers: 2}, fn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	names, _ := ListImages(dir)
	out, err := s.Run(context.Background(), names)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 2 || len(out) != 2 {
		t.Fatalf("calls=%d outcomes=%d", calls.Load(), len(out))
	}
	// names are sorted, so bad.png comes first
	if !out[0].Failed() || out[1].Failed() {
		t.Fatalf("unexpected outcomes %+v", out)
	}

	if _, err := os.Stat(filepath.Join(dir, "processed", "ok.png")); err != nil {
		t.Fatalf("ok.png not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "bad.png")); err != nil {
		t.Fatalf("bad.png not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ok.png")); !os.IsNotExist(err) {
		t.Fatalf("ok.png still in inbox")
	}
	o := readOutcome(t, filepath.Join(dir, "failed", "bad.png.json"))
	if o.File != "bad.png" || o.Error != "nothing readable" {
		t.Fatalf("unexpected sidecar %+v", o)
	}
	o = readOutcome(t, filepath.Join(dir, "processed", "ok.png.json"))
	if o.Error != "" || o.Result == nil {
		t.Fatalf("unexpected sidecar %+v", o)
	}
}

func TestRunCancelledLeavesFiles(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := New(Config{Dir: dir}, func(context.Context, string) (any, error) {
		t.Fatalf("processed after cancel")
		return nil, nil
	}, zerolog.Nop())
	results, err := s.Run(ctx, []string{"a.png"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if len(results) != 1 || results[0].File != "a.png" || !results[0].Failed() {
		t.Fatalf("skipped file must be reported as failed: %+v", results)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.png")); err != nil {
		t.Fatalf("file should stay in inbox: %v", err)
	}
}

func TestWatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	done := make(chan string, 1)
	fn := func(_ context.Context, path string) (any, error) {
		done <- filepath.Base(path)
		return "ok", nil
	}
	s, err := New(Config{Dir: dir, Workers: 1, Debounce: 50 * time.Millisecond}, fn, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeImage(t, dir, "new.png")
	_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)

	select {
	case name := <-done:
		if name != "new.png" {
			t.Fatalf("processed %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("new file was not processed")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "processed", "new.png")); err != nil {
		t.Fatalf("new.png not moved: %v", err)
	}
}

func TestNewRequiresDirAndFunc(t *testing.T) {
	if _, err := New(Config{}, func(context.Context, string) (any, error) { return nil, nil }, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without dir")
	}
	if _, err := New(Config{Dir: "x"}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without func")
	}
}

func TestRequeueFailed(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "bad.png")
	fail := true
	s, _ := New(Config{Dir: dir, Workers: 1}, func(context.Context, string) (any, error) {
		if fail {
			return nil, errors.New("unreadable")
		}
		return "ok", nil
	}, zerolog.Nop())
	if _, err := s.Run(context.Background(), []string{"bad.png"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	names, err := s.RequeueFailed()
	if err != nil || len(names) != 1 || names[0] != "bad.png" {
		t.Fatalf("requeue: %v %v", names, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "bad.png.json")); !os.IsNotExist(err) {
		t.Fatalf("sidecar not removed")
	}
	fail = false
	out, _ := s.Run(context.Background(), []string{"bad.png"})
	if out[0].Failed() {
		t.Fatalf("retry failed: %+v", out[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "processed", "bad.png")); err != nil {
		t.Fatalf("retried file not processed: %v", err)
	}

	empty, _ := New(Config{Dir: t.TempDir()}, func(context.Context, string) (any, error) { return nil, nil }, zerolog.Nop())
	if names, err := empty.RequeueFailed(); err != nil || len(names) != 0 {
		t.Fatalf("requeue without failed dir: %v %v", names, err)
	}
}
