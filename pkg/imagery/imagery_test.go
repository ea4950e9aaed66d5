package imagery

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

func writeTestImage(t *testing.T, w, h int) ImageRef {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{200, 200, 200, 255})
	for x := w / 4; x < w/2; x++ {
		for y := h / 4; y < h/2; y++ {
			img.Set(x, y, color.NRGBA{20, 40, 60, 255})
		}
	}
	p := filepath.Join(t.TempDir(), "in.png")
	if err := imaging.Save(img, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	return ImageRef(p)
}

func TestPreprocessorDefaultIsPassThrough(t *testing.T) {
	p := NewPreprocessorFromOptions(zerolog.Nop(), Options{})
	if len(p.Stages()) != 0 {
		t.Fatalf("expected no stages, got %v", p.Stages())
	}
	if got := p.Apply(context.Background(), "missing.png"); got != "missing.png" {
		t.Fatalf("expected original ref, got %s", got)
	}
}

func TestPreprocessorRunsEnabledStages(t *testing.T) {
	in := writeTestImage(t, 40, 30)
	p := NewPreprocessorFromOptions(zerolog.Nop(), Options{
		Grayscale: true, Contrast: true, Threshold: true, Denoise: true, Dir: t.TempDir(),
	})
	want := []string{"grayscale", "contrast", "threshold", "denoise"}
	if got := p.Stages(); len(got) != len(want) {
		t.Fatalf("stages = %v", got)
	}
	out := p.Apply(context.Background(), in)
	if out == in {
		t.Fatalf("expected a new image")
	}
	img, err := imaging.Open(string(out))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Fatalf("unexpected bounds %v", b)
	}
	if err := p.Release(out); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(string(out)); !os.IsNotExist(err) {
		t.Fatalf("expected output removed, stat err=%v", err)
	}
	if _, err := os.Stat(string(in)); err != nil {
		t.Fatalf("original must survive: %v", err)
	}
}

type stubStage struct {
	name  string
	out   ImageRef
	err   error
	panic bool
	calls int
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Apply(_ context.Context, img ImageRef) (ImageRef, error) {
	s.calls++
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func TestPreprocessorFaultFallsBackToOriginal(t *testing.T) {
	first := &stubStage{name: "a", out: "a.png"}
	failing := &stubStage{name: "b", err: errors.New("bad")}
	after := &stubStage{name: "c", out: "c.png"}
	p := NewPreprocessor(zerolog.Nop(), first, failing, after)
	if got := p.Apply(context.Background(), "orig.png"); got != "orig.png" {
		t.Fatalf("expected original, got %s", got)
	}
	if after.calls != 0 {
		t.Fatalf("stages after a fault must not run")
	}

	p = NewPreprocessor(zerolog.Nop(), &stubStage{name: "p", panic: true})
	if got := p.Apply(context.Background(), "orig.png"); got != "orig.png" {
		t.Fatalf("expected original after panic, got %s", got)
	}
}

func TestFileCropperClampsToBounds(t *testing.T) {
	in := writeTestImage(t, 50, 40)
	c := NewFileCropper(t.TempDir())
	out, err := c.Crop(context.Background(), in, Rect{X: 30, Y: 20, Width: 100, Height: 100})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	img, err := imaging.Open(string(out))
	if err != nil {
		t.Fatalf("open crop: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 20 {
		t.Fatalf("expected 20x20 crop, got %v", b)
	}
	if err := c.Release(out); err != nil {
		t.Fatalf("release: %v", err)
	}
	// releasing a file we do not own is a no-op
	if err := c.Release(in); err != nil {
		t.Fatalf("release foreign: %v", err)
	}
	if _, err := os.Stat(string(in)); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}
}

func TestFileCropperRejectsOutsideRegion(t *testing.T) {
	in := writeTestImage(t, 10, 10)
	c := NewFileCropper(t.TempDir())
	if _, err := c.Crop(context.Background(), in, Rect{X: 20, Y: 20, Width: 5, Height: 5}); err == nil {
		t.Fatalf("expected error for region outside image")
	}
	if _, err := c.Crop(context.Background(), in, Rect{Width: 0, Height: 3}); err == nil {
		t.Fatalf("expected error for empty region")
	}
	if _, err := c.Crop(context.Background(), in, Rect{X: 8, Y: 8, Width: -5, Height: -5}); err == nil {
		t.Fatalf("expected error for negative size")
	}
}

func TestAdaptiveThresholdIsBinary(t *testing.T) {
	img := imaging.New(16, 16, color.NRGBA{230, 230, 230, 255})
	for x := 4; x < 8; x++ {
		img.Set(x, 8, color.NRGBA{0, 0, 0, 255})
	}
	out := adaptiveThreshold(img, 4, 7)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			c := out.NRGBAAt(x, y)
			if c.R != 0 && c.R != 255 {
				t.Fatalf("pixel %d,%d not binary: %v", x, y, c)
			}
		}
	}
	if out.NRGBAAt(5, 8).R != 0 {
		t.Fatalf("dark stroke should stay black")
	}
	if out.NRGBAAt(0, 0).R != 255 {
		t.Fatalf("background should be white")
	}
}
