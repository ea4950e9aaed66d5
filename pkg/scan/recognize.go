package scan

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/ocr"
	"parkingbolid/pkg/refdata"
)

type regionText struct {
	label string
	text  string
	ok    bool
}

// recognize builds a Result for img. It holds no lock.
func (p *Pipeline) recognize(ctx context.Context, img imagery.ImageRef, saved *refdata.City) (*Result, error) {
	processed := img
	if p.cfg.Preprocessor != nil {
		processed = p.cfg.Preprocessor.Apply(ctx, img)
	}
	if processed != img {
		if r, ok := p.cfg.Preprocessor.(imagery.Releaser); ok {
			defer func() { _ = r.Release(processed) }()
		}
	}

	regions := []detect.Region{}
	if p.cfg.Detector != nil {
		regions = p.cfg.Detector.DetectObjects(ctx, processed)
	}

	var plateParts, zoneParts []string
	texts := p.recognizeRegions(ctx, processed, regions)
	anyOK := false
	for _, t := range texts {
		if !t.ok {
			continue
		}
		anyOK = true
		switch t.label {
		case detect.LabelPlate:
			plateParts = append(plateParts, t.text)
		case detect.LabelSign:
			zoneParts = append(zoneParts, t.text)
		default:
			plateParts = append(plateParts, t.text)
			zoneParts = append(zoneParts, t.text)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !anyOK {
		if len(regions) > 0 {
			p.log.Warn().Int("regions", len(regions)).Msg("all regions failed, recognizing whole image")
		}
		lines, err := p.cfg.Recognizer.Recognize(ctx, processed)
		if err != nil {
			return nil, fmt.Errorf("recognize image: %w", err)
		}
		text := strings.Join(lines, "\n")
		plateParts, zoneParts = []string{text}, []string{text}
	}

	plateText := strings.Join(plateParts, " ")
	zoneText := strings.Join(zoneParts, " ")
	if strings.TrimSpace(plateText) == "" && strings.TrimSpace(zoneText) == "" {
		return nil, ErrEmptyRecognition
	}

	res := &Result{
		RawText:         plateText + "\n" + zoneText,
		PlateText:       plateText,
		ZoneText:        zoneText,
		PlateCandidates: ocr.ExtractLicensePlate(plateText),
		ZoneCandidates:  ocr.ExtractParkingZone(zoneText),
		Regions:         regions,
	}
	if len(res.PlateCandidates) > 0 {
		res.Plate = res.PlateCandidates[0]
	}
	if len(res.ZoneCandidates) > 0 {
		res.Zone = res.ZoneCandidates[0]
	}
	res.City = p.cfg.Resolver.FindCityByPlate(res.Plate)
	if res.City == nil && saved != nil {
		c := *saved
		res.City = &c
	}
	res.ZoneValid = p.validity(res.City, res.Zone)
	p.log.Debug().
		Int("regions", len(regions)).
		Strs("plates", res.PlateCandidates).
		Strs("zones", res.ZoneCandidates).
		Msg("recognition done")
	return res, nil
}

// recognizeRegions crops and recognizes every region concurrently. Results
// keep detection order; failed regions are logged and marked not ok.
func (p *Pipeline) recognizeRegions(ctx context.Context, img imagery.ImageRef, regions []detect.Region) []regionText {
	out := make([]regionText, len(regions))
	if len(regions) == 0 {
		return out
	}
	if p.cfg.Cropper == nil {
		p.log.Warn().Msg("regions detected but no cropper configured")
		return out
	}
	var g errgroup.Group
	g.SetLimit(p.cfg.RegionWorkers)
	for i, r := range regions {
		out[i].label = r.Label
		g.Go(func() error {
			text, err := p.recognizeRegion(ctx, img, r)
			if err != nil {
				p.log.Warn().Err(err).Int("region", i).Str("label", r.Label).Msg("region skipped")
				return nil
			}
			out[i].text, out[i].ok = text, true
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Pipeline) recognizeRegion(ctx context.Context, img imagery.ImageRef, r detect.Region) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("region panicked: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	crop, err := p.cfg.Cropper.Crop(ctx, img, r.Rect())
	if err != nil {
		return "", fmt.Errorf("crop: %w", err)
	}
	if rel, ok := p.cfg.Cropper.(imagery.Releaser); ok {
		defer func() { _ = rel.Release(crop) }()
	}
	lines, err := p.cfg.Recognizer.Recognize(ctx, crop)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}
