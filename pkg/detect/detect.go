// Package detect wraps an object detector that locates licence plates and
// parking-zone signs on a captured image.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/imagery"
)

// Region labels.
const (
	LabelPlate   = "plate"
	LabelSign    = "sign"
	LabelUnknown = "unknown"
)

// Region is one detected bounding box in pixel coordinates.
type Region struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Label      string  `json:"label"`
	RawLabel   string  `json:"raw_label,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Rect returns the region bounds.
func (r Region) Rect() imagery.Rect {
	return imagery.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// Detector finds regions on an image.
type Detector interface {
	Detect(ctx context.Context, img imagery.ImageRef) ([]Region, error)
}

// Aggregator normalizes and ranks the output of a Detector. Detection is
// best-effort: failures yield no regions.
type Aggregator struct {
	detector Detector
	log      zerolog.Logger
}

// NewAggregator wraps d. A nil detector always yields no regions.
func NewAggregator(d Detector, log zerolog.Logger) *Aggregator {
	return &Aggregator{detector: d, log: log}
}

// DetectObjects returns the detected regions sorted by descending
// confidence; ties keep detector order. The result is never nil.
func (a *Aggregator) DetectObjects(ctx context.Context, img imagery.ImageRef) []Region {
	if a == nil || a.detector == nil {
		return []Region{}
	}
	found, err := a.detect(ctx, img)
	if err != nil {
		a.log.Warn().Err(err).Str("image", string(img)).Msg("object detection failed")
		return []Region{}
	}
	out := make([]Region, 0, len(found))
	for _, r := range found {
		r.RawLabel = r.Label
		r.Label = NormalizeLabel(r.Label)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func (a *Aggregator) detect(ctx context.Context, img imagery.ImageRef) (regions []Region, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()
	return a.detector.Detect(ctx, img)
}

// NormalizeLabel maps detector labels onto plate, sign or unknown. Any
// label mentioning a plate is a plate; one mentioning a sign or zone is a
// sign.
func NormalizeLabel(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "plate"):
		return LabelPlate
	case strings.Contains(l, "sign"), strings.Contains(l, "zone"):
		return LabelSign
	default:
		return LabelUnknown
	}
}

// Static is a Detector returning a fixed set of regions, used when the host
// already located regions itself.
type Static []Region

var _ Detector = Static(nil)

// Detect returns a copy of the configured regions.
func (s Static) Detect(_ context.Context, _ imagery.ImageRef) ([]Region, error) {
	out := make([]Region, len(s))
	copy(out, s)
	return out, nil
}

// ParseRegions decodes a JSON array of regions. Empty input yields no
// regions.
func ParseRegions(data []byte) (Static, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Static{}, nil
	}
	var out Static
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	for i, r := range out {
		if r.Width <= 0 || r.Height <= 0 {
			return nil, fmt.Errorf("region %d: empty box %dx%d", i, r.Width, r.Height)
		}
	}
	return out, nil
}

// ReadRegionsFile loads regions saved next to an image. A missing file
// returns nil and no error.
func ReadRegionsFile(path string) (Static, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseRegions(b)
}

// RegionsPath is where ReadRegionsFile expects the regions of img.
func RegionsPath(img string) string {
	return strings.TrimSuffix(img, filepath.Ext(img)) + ".regions.json"
}
