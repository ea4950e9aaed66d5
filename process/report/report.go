// Package report summarizes the sidecars the inbox scanner leaves next to
// processed and failed images.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"parkingbolid/pkg/scan"
)

// Record is the result cmd_scan_dir stores in each sidecar.
type Record struct {
	Snapshot     scan.Snapshot      `json:"snapshot"`
	Confirmation *scan.Confirmation `json:"confirmation,omitempty"`
}

// Entry mirrors one sidecar file.
type Entry struct {
	File        string    `json:"file"`
	Result      *Record   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	DurationMS  int64     `json:"duration_ms"`
}

type Summary struct {
	Month     string
	Scanned   int
	Confirmed int
	Failed    int
	ByCity    map[string]int
	ByZone    map[string]int
	Entries   []Entry
}

// Summarize reads the sidecars under dir/processed and dir/failed. A month
// in YYYY-MM form keeps only scans processed in that month (UTC); an empty
// month keeps everything.
func Summarize(dir, month string) (Summary, error) {
	var start, end time.Time
	if month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return Summary{}, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
		}
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	}

	sum := Summary{Month: month, ByCity: map[string]int{}, ByZone: map[string]int{}, Entries: []Entry{}}
	for _, sub := range []string{"processed", "failed"} {
		paths, err := filepath.Glob(filepath.Join(dir, sub, "*.json"))
		if err != nil {
			return Summary{}, err
		}
		for _, p := range paths {
			e, err := readEntry(p)
			if err != nil {
				return Summary{}, err
			}
			if !start.IsZero() && (e.ProcessedAt.Before(start) || !e.ProcessedAt.Before(end)) {
				continue
			}
			sum.add(e)
		}
	}
	sort.SliceStable(sum.Entries, func(i, j int) bool {
		return sum.Entries[i].ProcessedAt.Before(sum.Entries[j].ProcessedAt)
	})
	return sum, nil
}

func readEntry(path string) (Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return e, nil
}

func (s *Summary) add(e Entry) {
	s.Scanned++
	s.Entries = append(s.Entries, e)
	if e.Error != "" {
		s.Failed++
		return
	}
	if e.Result == nil || e.Result.Confirmation == nil {
		return
	}
	c := e.Result.Confirmation
	s.Confirmed++
	if c.City != nil {
		s.ByCity[c.City.Name]++
	}
	if c.Zone != "" {
		s.ByZone[c.Zone]++
	}
}

// Print writes the summary and, with list, one line per scan.
func (s Summary) Print(w io.Writer, list bool) {
	period := s.Month
	if period == "" {
		period = "all"
	}
	fmt.Fprintf(w, "Scan report month=%s (UTC):\n", period)
	fmt.Fprintf(w, "  scanned=%d confirmed=%d failed=%d\n", s.Scanned, s.Confirmed, s.Failed)
	for _, k := range sortedKeys(s.ByCity) {
		fmt.Fprintf(w, "  city %s=%d\n", k, s.ByCity[k])
	}
	for _, k := range sortedKeys(s.ByZone) {
		fmt.Fprintf(w, "  zone %s=%d\n", k, s.ByZone[k])
	}
	if !list {
		return
	}
	for _, e := range s.Entries {
		plate, zone, cityName := "", "", ""
		if e.Result != nil && e.Result.Confirmation != nil {
			c := e.Result.Confirmation
			plate, zone = c.Plate, c.Zone
			if c.City != nil {
				cityName = c.City.Name
			}
		}
		fmt.Fprintf(w, "%s|%s|%s|%s|%s|%s\n", e.ProcessedAt.Format(time.RFC3339), e.File, plate, zone, cityName, strings.ReplaceAll(e.Error, "\n", " "))
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
