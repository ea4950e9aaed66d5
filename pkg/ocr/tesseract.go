package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"parkingbolid/pkg/imagery"
)

// DefaultWhitelist covers plate letters (incl. Serbian diacritics), digits
// and the separators seen on plates and zone signs.
const DefaultWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZČĆŽŠĐabcdefghijklmnopqrstuvwxyzčćžšđ- "

// TesseractRecognizer recognizes text lines with a single gosseract client.
// Calls are serialized; the client is not safe for concurrent use.
type TesseractRecognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
	log    zerolog.Logger
}

// NewTesseractRecognizer creates a recognizer for language (default "eng").
// An empty whitelist leaves Tesseract unrestricted.
func NewTesseractRecognizer(log zerolog.Logger, language, whitelist string) (*TesseractRecognizer, error) {
	if language == "" {
		language = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if whitelist != "" {
		if err := client.SetWhitelist(whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("set ocr whitelist: %w", err)
		}
	}
	// plates and zone codes are not dictionary words
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	return &TesseractRecognizer{client: client, log: log}, nil
}

// Recognize returns the non-empty trimmed lines Tesseract reads from img.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img imagery.ImageRef) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, fmt.Errorf("recognizer closed")
	}
	if err := r.client.SetImage(string(img)); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", img, err)
	}
	lines := splitLines(text)
	r.log.Debug().Str("image", string(img)).Int("lines", len(lines)).Str("text", snippet(normalizeOCRText(text), 120)).Msg("ocr done")
	return lines, nil
}

// Close releases the Tesseract client.
func (r *TesseractRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func splitLines(text string) []string {
	lines := []string{}
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
