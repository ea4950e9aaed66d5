package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkingbolid/pkg/city"
	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/store"
)

// Config wires the collaborators of a Pipeline. Camera, Cropper,
// Preprocessor, Detector, Store and Notifier are optional.
type Config struct {
	Camera       Camera
	Recognizer   Recognizer
	Cropper      Cropper
	Preprocessor Preprocessor
	Detector     *detect.Aggregator
	Resolver     *city.Resolver
	Store        store.Store
	Notifier     Notifier
	// RegionWorkers bounds concurrent per-region recognition (default 4).
	RegionWorkers int
}

// Pipeline runs a single scan at a time. Methods are safe for concurrent
// use; collaborators are called without holding the lock and their results
// are applied only if the scan was not replaced or closed meanwhile.
type Pipeline struct {
	id  string
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	state       State
	image       imagery.ImageRef
	result      *Result
	generation  uint64
	recognizing bool
	recogGen    uint64
	closed      bool
	started     bool
	savedCity   *refdata.City
	savedZone   string
	// images created by our cropper that we must release
	owned map[imagery.ImageRef]struct{}
}

// New creates an idle pipeline.
func New(cfg Config, log zerolog.Logger) (*Pipeline, error) {
	if cfg.Recognizer == nil {
		return nil, errors.New("scan: recognizer is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("scan: resolver is required")
	}
	if cfg.RegionWorkers <= 0 {
		cfg.RegionWorkers = 4
	}
	id := uuid.NewString()
	return &Pipeline{
		id:    id,
		cfg:   cfg,
		log:   log.With().Str("scan", id).Logger(),
		owned: make(map[imagery.ImageRef]struct{}),
	}, nil
}

// ID returns the scan identifier.
func (p *Pipeline) ID() string { return p.id }

// Snapshot returns a copy of the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{ID: p.id, State: p.state, Image: p.image, Result: p.result.clone()}
}

// Preferences returns the city and zone read by Start.
func (p *Pipeline) Preferences() (*refdata.City, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.savedCity == nil {
		return nil, p.savedZone
	}
	c := *p.savedCity
	return &c, p.savedZone
}

// Start reads the saved city and zone once. Read failures are logged and
// surfaced as a notice; the pipeline works without them.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed || p.cfg.Store == nil {
		p.started = true
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	cityName, _, err := p.cfg.Store.Get(ctx, store.KeyLastCity)
	if err != nil {
		p.persistenceFault(ctx, err)
	}
	zone, _, err := p.cfg.Store.Get(ctx, store.KeyLastZone)
	if err != nil {
		p.persistenceFault(ctx, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cityName != "" {
		if c, ok := p.cfg.Resolver.Catalog().City(cityName); ok {
			p.savedCity = &c
		} else {
			p.log.Debug().Str("city", cityName).Msg("saved city no longer in catalog")
		}
	}
	p.savedZone = zone
}

// Capture takes a new photo and starts a fresh scan. Once the photo is in,
// any previous result is dropped and any recognition in flight becomes
// stale; a failed capture leaves the current scan untouched.
func (p *Pipeline) Capture(ctx context.Context) (Snapshot, error) {
	if p.cfg.Camera == nil {
		return Snapshot{}, fmt.Errorf("%w: no camera", ErrInvalidState)
	}
	img, err := p.cfg.Camera.Capture(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			p.notify(ctx, NoticeCameraDenied)
		}
		p.log.Warn().Err(err).Msg("capture failed")
		return Snapshot{}, fmt.Errorf("capture: %w", err)
	}
	if img == "" {
		return Snapshot{}, ErrNoImage
	}
	gen, err := p.currentGeneration()
	if err != nil {
		return Snapshot{}, err
	}
	return p.setImage(gen, img, Idle, Captured, RecognitionFailed, Reviewing, Confirmed)
}

// Load starts a fresh scan from an image captured by the host.
func (p *Pipeline) Load(img imagery.ImageRef) (Snapshot, error) {
	if img == "" {
		return Snapshot{}, ErrNoImage
	}
	gen, err := p.currentGeneration()
	if err != nil {
		return Snapshot{}, err
	}
	return p.setImage(gen, img, Idle, Captured, RecognitionFailed, Reviewing, Confirmed)
}

// EditImage crops the held image and returns to Captured so recognition
// can be retried. Allowed in Captured and RecognitionFailed.
func (p *Pipeline) EditImage(ctx context.Context, rect imagery.Rect) (Snapshot, error) {
	if p.cfg.Cropper == nil {
		return Snapshot{}, fmt.Errorf("%w: image editing unavailable", ErrInvalidState)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if p.state != Captured && p.state != RecognitionFailed {
		state := p.state
		p.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot edit image while %s", ErrInvalidState, state)
	}
	if p.image == "" {
		p.mu.Unlock()
		return Snapshot{}, ErrNoImage
	}
	gen, src := p.generation, p.image
	p.mu.Unlock()

	cropped, err := p.cfg.Cropper.Crop(ctx, src, rect)
	if err != nil {
		p.log.Warn().Err(err).Msg("image edit failed")
		p.notify(ctx, NoticeEditFailed)
		return Snapshot{}, fmt.Errorf("edit image: %w", err)
	}
	p.mu.Lock()
	p.owned[cropped] = struct{}{}
	p.mu.Unlock()
	return p.setImage(gen, cropped, Captured, RecognitionFailed)
}

// Recognize runs preprocessing, detection and text recognition on the held
// image. Success moves to Reviewing; an empty or failed recognition moves to
// RecognitionFailed, keeps the image and notifies the user.
func (p *Pipeline) Recognize(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, ErrClosed
	case p.state != Captured && p.state != RecognitionFailed:
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot recognize while %s", ErrInvalidState, state)
	case p.image == "":
		p.mu.Unlock()
		return nil, ErrNoImage
	case p.recognizing && p.recogGen == p.generation:
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: recognition already running", ErrInvalidState)
	}
	gen, img, saved := p.generation, p.image, p.savedCity
	p.recognizing, p.recogGen = true, gen
	p.mu.Unlock()

	res, err := p.recognize(ctx, img, saved)

	p.mu.Lock()
	if p.recogGen == gen {
		p.recognizing = false
	}
	if p.closed || p.generation != gen {
		p.mu.Unlock()
		p.log.Debug().Msg("dropping late recognition result")
		return nil, ErrStale
	}
	if err != nil {
		p.state = RecognitionFailed
		p.result = nil
		p.mu.Unlock()
		p.log.Warn().Err(err).Msg("recognition failed")
		p.notify(ctx, NoticeRecognitionFailed)
		return nil, err
	}
	res.ScanID = p.id
	p.state = Reviewing
	p.result = res
	out := res.clone()
	p.mu.Unlock()

	p.persist(ctx, out.City, out.Zone)
	return out, nil
}

// SelectPlate replaces the chosen plate with a candidate or free text.
func (p *Pipeline) SelectPlate(ctx context.Context, plate string) (*Result, error) {
	return p.review(ctx, func(r *Result) error {
		r.Plate = strings.TrimSpace(plate)
		return nil
	}, false)
}

// SelectZone replaces the chosen zone and revalidates it.
func (p *Pipeline) SelectZone(ctx context.Context, zone string) (*Result, error) {
	return p.review(ctx, func(r *Result) error {
		r.Zone = strings.TrimSpace(zone)
		return nil
	}, true)
}

// SelectCity sets the city by name; an empty name clears it.
func (p *Pipeline) SelectCity(ctx context.Context, name string) (*Result, error) {
	name = strings.TrimSpace(name)
	var selected *refdata.City
	if name != "" {
		c, ok := p.cfg.Resolver.Catalog().City(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", refdata.ErrUnknownCity, name)
		}
		selected = &c
	}
	return p.review(ctx, func(r *Result) error {
		r.City = selected
		return nil
	}, true)
}

// review applies a user change in Reviewing and revalidates the zone. The
// recognizer is never called.
func (p *Pipeline) review(ctx context.Context, change func(*Result) error, save bool) (*Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.state != Reviewing || p.result == nil {
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: nothing to review while %s", ErrInvalidState, state)
	}
	if err := change(p.result); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.result.ZoneValid = p.validity(p.result.City, p.result.Zone)
	out := p.result.clone()
	p.mu.Unlock()

	if save {
		p.persist(ctx, out.City, out.Zone)
	}
	return out, nil
}

// Confirm accepts the current selection, saves city and zone, and returns
// them. Validity is advisory and never blocks confirmation.
func (p *Pipeline) Confirm(ctx context.Context) (Confirmation, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Confirmation{}, ErrClosed
	}
	if p.state != Reviewing || p.result == nil {
		state := p.state
		p.mu.Unlock()
		return Confirmation{}, fmt.Errorf("%w: cannot confirm while %s", ErrInvalidState, state)
	}
	p.state = Confirmed
	r := p.result.clone()
	p.mu.Unlock()

	p.persist(ctx, r.City, r.Zone)
	p.log.Info().Str("plate", r.Plate).Str("zone", r.Zone).Msg("scan confirmed")
	return Confirmation{Plate: r.Plate, Zone: r.Zone, City: r.City}, nil
}

// Discard drops the image and result and returns to Idle.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	p.generation++
	p.state = Idle
	p.image = ""
	p.result = nil
	owned := p.takeOwned()
	p.mu.Unlock()
	p.release(owned)
}

// Close tears the pipeline down. Later calls fail with ErrClosed and work
// still in flight is discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.generation++
	owned := p.takeOwned()
	p.mu.Unlock()
	p.release(owned)
}

// currentGeneration returns the generation a new image must match;
// setImage advances it once the image is installed.
func (p *Pipeline) currentGeneration() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.generation, nil
}

// setImage installs img as the scan image if gen is current and the state is
// one of from.
func (p *Pipeline) setImage(gen uint64, img imagery.ImageRef, from ...State) (Snapshot, error) {
	p.mu.Lock()
	if p.closed || p.generation != gen {
		drop := p.dropOwned(img)
		p.mu.Unlock()
		p.release(drop)
		return Snapshot{}, ErrStale
	}
	allowed := false
	for _, s := range from {
		allowed = allowed || s == p.state
	}
	if !allowed {
		state := p.state
		p.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: cannot load image while %s", ErrInvalidState, state)
	}
	var old []imagery.ImageRef
	if p.image != "" && p.image != img {
		old = p.dropOwned(p.image)
	}
	p.generation++
	p.image = img
	p.state = Captured
	p.result = nil
	snap := Snapshot{ID: p.id, State: p.state, Image: p.image}
	p.mu.Unlock()
	p.release(old)
	return snap, nil
}

func (p *Pipeline) validity(c *refdata.City, zone string) *bool {
	if c == nil || zone == "" {
		return nil
	}
	v := p.cfg.Resolver.IsValidZoneForCity(c.Name, zone)
	return &v
}

// persist saves city and zone when set. Failures never reach the caller.
func (p *Pipeline) persist(ctx context.Context, c *refdata.City, zone string) {
	if p.cfg.Store == nil {
		return
	}
	if c != nil {
		if err := p.cfg.Store.Set(ctx, store.KeyLastCity, c.Name); err != nil {
			p.persistenceFault(ctx, err)
		}
	}
	if zone != "" {
		if err := p.cfg.Store.Set(ctx, store.KeyLastZone, zone); err != nil {
			p.persistenceFault(ctx, err)
		}
	}
}

func (p *Pipeline) persistenceFault(ctx context.Context, err error) {
	p.log.Warn().Err(err).Msg("preference storage failed")
	p.notify(ctx, NoticePersistenceFailed)
}

func (p *Pipeline) notify(ctx context.Context, msg string) {
	if p.cfg.Notifier != nil {
		p.cfg.Notifier.Notify(ctx, msg)
	}
}

// takeOwned must be called with the lock held.
func (p *Pipeline) takeOwned() []imagery.ImageRef {
	out := make([]imagery.ImageRef, 0, len(p.owned))
	for ref := range p.owned {
		out = append(out, ref)
	}
	p.owned = make(map[imagery.ImageRef]struct{})
	return out
}

// dropOwned must be called with the lock held. It forgets and returns the
// refs our cropper created.
func (p *Pipeline) dropOwned(refs ...imagery.ImageRef) []imagery.ImageRef {
	var out []imagery.ImageRef
	for _, ref := range refs {
		if _, ok := p.owned[ref]; ok {
			delete(p.owned, ref)
			out = append(out, ref)
		}
	}
	return out
}

// release frees images created by our cropper.
func (p *Pipeline) release(refs []imagery.ImageRef) {
	r, ok := p.cfg.Cropper.(imagery.Releaser)
	if !ok {
		return
	}
	for _, ref := range refs {
		if err := r.Release(ref); err != nil {
			p.log.Debug().Err(err).Str("image", string(ref)).Msg("release image")
		}
	}
}
