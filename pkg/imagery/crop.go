package imagery

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// FileCropper crops image files and writes the result as a temp PNG.
type FileCropper struct {
	dir     string
	scratch scratch
}

// NewFileCropper creates a cropper writing into dir (os temp dir when empty).
func NewFileCropper(dir string) *FileCropper {
	return &FileCropper{dir: dir}
}

// Crop extracts rect from img. The rectangle is clamped to the image bounds;
// a rectangle that falls entirely outside is an error.
func (c *FileCropper) Crop(ctx context.Context, img ImageRef, rect Rect) (ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rect.Empty() {
		return "", fmt.Errorf("empty region %+v", rect)
	}
	src, err := imaging.Open(string(img))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	region := rect.Rectangle().Intersect(src.Bounds())
	if region.Empty() {
		return "", fmt.Errorf("invalid region bounds %+v", rect)
	}
	out, err := saveTemp(imaging.Crop(src, region), c.dir, "scan-crop-*.png")
	if err != nil {
		return "", err
	}
	c.scratch.track(out)
	return out, nil
}

// Release removes a crop created by this cropper.
func (c *FileCropper) Release(ref ImageRef) error {
	return c.scratch.release(ref)
}
