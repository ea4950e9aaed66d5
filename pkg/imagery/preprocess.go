package imagery

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// Stage is one optional enhancement step. A stage returns a new reference or
// an error; it never modifies its input.
type Stage interface {
	Name() string
	Apply(ctx context.Context, img ImageRef) (ImageRef, error)
}

// Options toggles the built-in stages. All stages are off by default, which
// makes the preprocessor a pass-through.
type Options struct {
	Grayscale      bool
	Contrast       bool
	Threshold      bool
	Denoise        bool
	ContrastAmount float64
	ThresholdBias  int
	Dir            string
}

// Preprocessor runs its stages in order. Any stage fault short-circuits to
// the original image.
type Preprocessor struct {
	stages  []Stage
	scratch scratch
	log     zerolog.Logger
}

// NewPreprocessor builds a preprocessor from explicit stages.
func NewPreprocessor(log zerolog.Logger, stages ...Stage) *Preprocessor {
	return &Preprocessor{stages: stages, log: log}
}

// NewPreprocessorFromOptions enables the built-in stages selected in opts, in
// the fixed order grayscale, contrast, threshold, denoise.
func NewPreprocessorFromOptions(log zerolog.Logger, opts Options) *Preprocessor {
	p := &Preprocessor{log: log}
	if opts.Grayscale {
		p.stages = append(p.stages, p.filter("grayscale", opts.Dir, func(img image.Image) image.Image {
			return imaging.Grayscale(img)
		}))
	}
	if opts.Contrast {
		amount := opts.ContrastAmount
		if amount == 0 {
			amount = 20
		}
		p.stages = append(p.stages, p.filter("contrast", opts.Dir, func(img image.Image) image.Image {
			return imaging.AdjustContrast(img, amount)
		}))
	}
	if opts.Threshold {
		bias := opts.ThresholdBias
		if bias == 0 {
			bias = 7
		}
		p.stages = append(p.stages, p.filter("threshold", opts.Dir, func(img image.Image) image.Image {
			return adaptiveThreshold(img, 15, bias)
		}))
	}
	if opts.Denoise {
		p.stages = append(p.stages, p.filter("denoise", opts.Dir, func(img image.Image) image.Image {
			return imaging.Blur(img, 0.6)
		}))
	}
	return p
}

// Stages returns the names of the enabled stages.
func (p *Preprocessor) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Apply runs every stage. It never fails: on any stage error or panic the
// original reference is returned.
func (p *Preprocessor) Apply(ctx context.Context, img ImageRef) ImageRef {
	cur := img
	for _, s := range p.stages {
		next, err := p.applyStage(ctx, s, cur)
		if err != nil {
			p.log.Warn().Err(err).Str("stage", s.Name()).Msg("image preprocessing failed, using original image")
			if cur != img {
				_ = p.Release(cur)
			}
			return img
		}
		if cur != img && next != cur {
			_ = p.Release(cur)
		}
		cur = next
	}
	return cur
}

func (p *Preprocessor) applyStage(ctx context.Context, s Stage, img ImageRef) (out ImageRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.Name(), r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Apply(ctx, img)
}

// Release removes an intermediate image created by a built-in stage.
func (p *Preprocessor) Release(ref ImageRef) error {
	return p.scratch.release(ref)
}

type filterStage struct {
	name string
	dir  string
	fn   func(image.Image) image.Image
	p    *Preprocessor
}

func (p *Preprocessor) filter(name, dir string, fn func(image.Image) image.Image) Stage {
	return &filterStage{name: name, dir: dir, fn: fn, p: p}
}

func (s *filterStage) Name() string { return s.name }

func (s *filterStage) Apply(_ context.Context, img ImageRef) (ImageRef, error) {
	src, err := imaging.Open(string(img))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	out, err := saveTemp(s.fn(src), s.dir, "scan-"+s.name+"-*.png")
	if err != nil {
		return "", err
	}
	s.p.scratch.track(out)
	return out, nil
}
