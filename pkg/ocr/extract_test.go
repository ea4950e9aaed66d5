package ocr

import (
	"reflect"
	"testing"
)

func TestExtractLicensePlate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"spaced", "bg 234 ab", []string{"BG234AB"}},
		{"hyphenated", "NS-234-ZZ", []string{"NS-234-ZZ"}},
		{"zero becomes letter", "BG-084-AB", []string{"O84-AB"}},
		{"one and five become letters", "NS-O51-ZZ", []string{}},
		{"ranked longest first", "NS-22-ZZ - BG-234-AB", []string{"BG-234-AB", "NS-22-ZZ"}},
		{"ties keep match order", "AB-22-CD-EF-33-GH", []string{"AB-22-CD", "EF-33-GH"}},
		{"junk stripped", "**KG* 4478 .CC", []string{"KG4478CC"}},
		{"leading diacritic", "ČA 246 KL", []string{"ČA246KL"}},
		{"lowercase diacritic", "ša-234-ab", []string{"ŠA-234-AB"}},
		{"trailing diacritic", "BG-234-AŠ", []string{"BG-234-AŠ"}},
		{"glued to a letter", "XŠA-234-AB", []string{}},
		{"diacritic plate after ascii plate", "BG-22-AB-ČA-33-ŽĐ", []string{"BG-22-AB", "ČA-33-ŽĐ"}},
		{"nothing", "hvala", []string{}},
		{"empty", "", []string{}},
	}
	for _, tc := range cases {
		got := ExtractLicensePlate(tc.in)
		if got == nil {
			t.Fatalf("%s: got nil slice", tc.name)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: ExtractLicensePlate(%q) = %q want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestExtractParkingZone(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"moja zona je 9111 hvala", []string{"9111"}},
		{"zona\n9055", []string{"9055"}},
		{"912 ili 9113", []string{"9113", "912"}},
		{"912 913", []string{"912", "913"}},
		{"99999 8111 zona9111", []string{}},
		{"š9111 9112ž", []string{}},
		{"zóna: 9113.", []string{"9113"}},
		{"", []string{}},
	}
	for _, tc := range cases {
		got := ExtractParkingZone(tc.in)
		if got == nil {
			t.Fatalf("ExtractParkingZone(%q) returned nil", tc.in)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ExtractParkingZone(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractorsAreTotalAndIdempotent(t *testing.T) {
	inputs := []string{
		"", " ", "\x00\xff\xfe", "ČA-246-KL", "šđčćž 9 1 1 1", "---", "9111 9112 9113 BG-234-AB",
		"ZZZZZZZZZZZZZZZZ 99 999 9999 99999", "\t\n\r", "bg-234-ab\nzona 9112",
	}
	for _, in := range inputs {
		p1, p2 := ExtractLicensePlate(in), ExtractLicensePlate(in)
		z1, z2 := ExtractParkingZone(in), ExtractParkingZone(in)
		if p1 == nil || z1 == nil {
			t.Fatalf("nil result for %q", in)
		}
		if !reflect.DeepEqual(p1, p2) || !reflect.DeepEqual(z1, z2) {
			t.Fatalf("non-deterministic output for %q", in)
		}
	}
}

func TestNormalizeOCRText(t *testing.T) {
	if got := normalizeOCRText(" a\tb\n\nc  "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
	if got := snippet("abcdef", 3); got != "abc…" {
		t.Fatalf("got %q", got)
	}
	if got := snippet("ŽŽŽŽ", 2); got != "ŽŽ…" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("  BG 234 AB \n\n\t\nZONA 9111\n")
	if len(got) != 2 || got[0] != "BG 234 AB" || got[1] != "ZONA 9111" {
		t.Fatalf("unexpected lines: %q", got)
	}
	if got := splitLines(""); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
