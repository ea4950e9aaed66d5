// Package scan implements the capture, recognize and review flow that turns
// a photo of a licence plate and a parking-zone sign into a confirmed
// plate, zone and city.
package scan

import (
	"context"
	"errors"
	"fmt"

	"parkingbolid/pkg/detect"
	"parkingbolid/pkg/imagery"
	"parkingbolid/pkg/refdata"
)

var (
	// ErrPermissionDenied is returned by cameras without access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEmptyRecognition means no text was recognized on the image.
	ErrEmptyRecognition = errors.New("empty recognition result")
	// ErrInvalidState is returned when an operation does not apply to the
	// current state.
	ErrInvalidState = errors.New("invalid scan state")
	// ErrStale is returned when a result arrives after the scan was replaced,
	// discarded or closed. The result is dropped.
	ErrStale = errors.New("stale scan result")
	// ErrNoImage means there is no captured image to work on.
	ErrNoImage = errors.New("no image")
	// ErrClosed is returned by a pipeline after Close.
	ErrClosed = errors.New("scan closed")
)

// State of a scan.
type State int

const (
	Idle State = iota
	Captured
	Reviewing
	Confirmed
	RecognitionFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Captured:
		return "captured"
	case Reviewing:
		return "reviewing"
	case Confirmed:
		return "confirmed"
	case RecognitionFailed:
		return "recognition_failed"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= RecognitionFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scan state %q", b)
}

// Result is the outcome of one recognition, adjusted by user selections.
// Candidate lists are never nil. ZoneValid is nil unless both a city and a
// zone are known.
type Result struct {
	ScanID          string          `json:"scan_id"`
	RawText         string          `json:"raw_text"`
	PlateText       string          `json:"plate_text"`
	ZoneText        string          `json:"zone_text"`
	PlateCandidates []string        `json:"plate_candidates"`
	ZoneCandidates  []string        `json:"zone_candidates"`
	Plate           string          `json:"plate"`
	Zone            string          `json:"zone"`
	City            *refdata.City   `json:"city"`
	ZoneValid       *bool           `json:"zone_valid"`
	Regions         []detect.Region `json:"regions"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.PlateCandidates = append([]string{}, r.PlateCandidates...)
	out.ZoneCandidates = append([]string{}, r.ZoneCandidates...)
	out.Regions = append([]detect.Region{}, r.Regions...)
	if r.City != nil {
		c := *r.City
		out.City = &c
	}
	if r.ZoneValid != nil {
		v := *r.ZoneValid
		out.ZoneValid = &v
	}
	return &out
}

// Confirmation is what the caller receives once the user accepts a result.
type Confirmation struct {
	Plate string        `json:"plate"`
	Zone  string        `json:"zone"`
	City  *refdata.City `json:"city"`
}

// Snapshot is a copy of the pipeline state.
type Snapshot struct {
	ID     string           `json:"id"`
	State  State            `json:"state"`
	Image  imagery.ImageRef `json:"image,omitempty"`
	Result *Result          `json:"result,omitempty"`
}

// Camera captures a photo. Missing access is reported with
// ErrPermissionDenied.
type Camera interface {
	Capture(ctx context.Context) (imagery.ImageRef, error)
}

// Recognizer reads text lines from an image.
type Recognizer interface {
	Recognize(ctx context.Context, img imagery.ImageRef) ([]string, error)
}

// Cropper cuts a rectangle out of an image.
type Cropper interface {
	Crop(ctx context.Context, img imagery.ImageRef, rect imagery.Rect) (imagery.ImageRef, error)
}

// Preprocessor enhances an image before detection; it must never fail.
type Preprocessor interface {
	Apply(ctx context.Context, img imagery.ImageRef) imagery.ImageRef
}

// Notifier shows a non-fatal notice to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// User-facing notices.
const (
	NoticeRecognitionFailed = "Text recognition failed. Try editing the image."
	NoticeCameraDenied      = "Camera access is not allowed."
	NoticeEditFailed        = "The image could not be edited."
	NoticePersistenceFailed = "Your selection could not be saved."
)
