// Package ocr turns recognized text into ranked licence-plate and
// parking-zone candidates, and wraps the Tesseract engine used to recognize
// text on captured images.
package ocr

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Both patterns are matched as whole words through findWords; regexp's \b
// only knows ASCII letters and would cut Č or Š off a plate.
var (
	// 1-2 letters, 2-4 digits, 1-2 letters, optional hyphens between groups.
	platePattern = regexp.MustCompile(`(?i)[A-ZČĆŽŠĐ]{1,2}-?\d{2,4}-?[A-ZČĆŽŠĐ]{1,2}`)
	// 3-4 digit codes starting with 9.
	zonePattern = regexp.MustCompile(`9\d{2,3}`)

	plateConfusables = strings.NewReplacer("0", "O", "1", "I", "5", "S")
)

// ExtractLicensePlate returns every plate-shaped token in text, longest first.
// The text is uppercased, stripped of whitespace and passed through the
// confusable map (0->O, 1->I, 5->S) over the whole string before matching.
// The result is never nil.
func ExtractLicensePlate(text string) []string {
	cleaned := correctPlateErrors(strings.ToUpper(text))
	return rankByLength(findWords(platePattern, cleaned))
}

// ExtractParkingZone returns every zone code in text, longest first. No
// confusable correction is applied. The result is never nil.
func ExtractParkingZone(text string) []string {
	return rankByLength(findWords(zonePattern, normalizeOCRText(text)))
}

func correctPlateErrors(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	text = plateConfusables.Replace(text)
	return strings.Map(func(r rune) rune {
		if isPlateRune(r) {
			return r
		}
		return -1
	}, text)
}

func isPlateRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		return true
	}
	switch r {
	case 'Č', 'Ć', 'Ž', 'Š', 'Đ', 'č', 'ć', 'ž', 'š', 'đ':
		return true
	}
	return false
}

// findWords returns the non-overlapping matches of re in s that are not
// glued to a letter or digit on either side. A match rejected at one start
// is retried from the next rune, so a later word inside it is still found.
func findWords(re *regexp.Regexp, s string) []string {
	out := []string{}
	for at := 0; at < len(s); {
		loc := re.FindStringIndex(s[at:])
		if loc == nil {
			break
		}
		start, end := at+loc[0], at+loc[1]
		if !isWordRune(lastRune(s[:start])) && !isWordRune(firstRune(s[end:])) {
			out = append(out, s[start:end])
			at = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		at = start + size
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	if s == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func lastRune(s string) rune {
	if s == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

// rankByLength sorts longest first; equal lengths keep match order.
func rankByLength(matches []string) []string {
	out := make([]string, len(matches))
	copy(out, matches)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}
