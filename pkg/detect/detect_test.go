package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/imagery"
)

type detectorFunc func(ctx context.Context, img imagery.ImageRef) ([]Region, error)

func (f detectorFunc) Detect(ctx context.Context, img imagery.ImageRef) ([]Region, error) {
	return f(ctx, img)
}

func TestDetectObjectsSortsByConfidence(t *testing.T) {
	a := NewAggregator(Static{
		{X: 1, Label: "sign", Confidence: 0.4},
		{X: 2, Label: "PLATE", Confidence: 0.9},
		{X: 3, Label: "car"},
		{X: 4, Label: "license_plate", Confidence: 0.4},
	}, zerolog.Nop())
	got := a.DetectObjects(context.Background(), "img.png")
	wantX := []int{2, 1, 4, 3}
	wantLabel := []string{LabelPlate, LabelSign, LabelPlate, LabelUnknown}
	if len(got) != len(wantX) {
		t.Fatalf("got %d regions", len(got))
	}
	for i := range got {
		if got[i].X != wantX[i] || got[i].Label != wantLabel[i] {
			t.Fatalf("region %d = %+v", i, got[i])
		}
	}
	if got[3].RawLabel != "car" {
		t.Fatalf("raw label lost: %+v", got[3])
	}
}

func TestDetectObjectsAbsorbsFailures(t *testing.T) {
	failing := NewAggregator(detectorFunc(func(context.Context, imagery.ImageRef) ([]Region, error) {
		return []Region{{Label: "plate"}}, errors.New("model missing")
	}), zerolog.Nop())
	if got := failing.DetectObjects(context.Background(), "x"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice on error, got %#v", got)
	}
	panicking := NewAggregator(detectorFunc(func(context.Context, imagery.ImageRef) ([]Region, error) {
		panic("native module crashed")
	}), zerolog.Nop())
	if got := panicking.DetectObjects(context.Background(), "x"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice on panic, got %#v", got)
	}
	if got := NewAggregator(nil, zerolog.Nop()).DetectObjects(context.Background(), "x"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice without detector")
	}
}

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"plate":         LabelPlate,
		"License Plate": LabelPlate,
		"zone":          LabelSign,
		"parking_sign":  LabelSign,
		"":              LabelUnknown,
		"car":           LabelUnknown,
	}
	for in, want := range cases {
		if got := NormalizeLabel(in); got != want {
			t.Fatalf("NormalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRegions(t *testing.T) {
	got, err := ParseRegions([]byte(`[{"x":1,"y":2,"width":30,"height":10,"label":"license_plate","confidence":0.9}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 || got[0].Width != 30 || got[0].Label != "license_plate" {
		t.Fatalf("unexpected regions %+v", got)
	}
	if got, err := ParseRegions([]byte("  ")); err != nil || len(got) != 0 {
		t.Fatalf("blank input: %v %v", got, err)
	}
	if _, err := ParseRegions([]byte(`[{"x":1,"y":2,"width":0,"height":10}]`)); err == nil {
		t.Fatalf("expected error for empty box")
	}
	if _, err := ParseRegions([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestReadRegionsFile(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "car.jpg")
	if p := RegionsPath(img); p != filepath.Join(dir, "car.regions.json") {
		t.Fatalf("unexpected regions path %q", p)
	}
	got, err := ReadRegionsFile(RegionsPath(img))
	if err != nil || got != nil {
		t.Fatalf("missing file: %v %v", got, err)
	}
	if err := os.WriteFile(RegionsPath(img), []byte(`[{"x":0,"y":0,"width":5,"height":5,"label":"sign"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = ReadRegionsFile(RegionsPath(img))
	if err != nil || len(got) != 1 {
		t.Fatalf("read: %v %v", got, err)
	}
}
