// Package imagery defines the image references passed between scan
// collaborators, the optional preprocessing stages, and a file-based crop
// adapter built on disintegration/imaging.
package imagery

import (
	"image"
	"os"
	"sync"
)

// ImageRef identifies an image by file path or URI. The scan pipeline never
// looks inside it; collaborators resolve it.
type ImageRef string

// Rect is an axis-aligned region in pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Rectangle converts to the standard library representation.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Releaser is implemented by collaborators that create scratch images and
// can remove them once the caller is done.
type Releaser interface {
	Release(ref ImageRef) error
}

// scratch tracks temp files created by this package so Release only ever
// removes files we own.
type scratch struct {
	mu    sync.Mutex
	owned map[ImageRef]struct{}
}

func (s *scratch) track(ref ImageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owned == nil {
		s.owned = make(map[ImageRef]struct{})
	}
	s.owned[ref] = struct{}{}
}

func (s *scratch) release(ref ImageRef) error {
	s.mu.Lock()
	_, ok := s.owned[ref]
	delete(s.owned, ref)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(string(ref)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
