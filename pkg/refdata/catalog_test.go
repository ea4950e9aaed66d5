package refdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	bg, ok := c.City("Beograd")
	if !ok {
		t.Fatalf("Beograd missing")
	}
	if bg.PlatePrefix != "BG" || !bg.HasCoordinates() {
		t.Fatalf("unexpected Beograd row %+v", bg)
	}
	zones, ok := c.Zones("Beograd")
	if !ok || len(zones) == 0 || zones[0] != "9111" {
		t.Fatalf("unexpected Beograd zones %v", zones)
	}
	if len(c.PayZones("Novi Sad")) == 0 {
		t.Fatalf("expected pay zones for Novi Sad")
	}
	for _, name := range c.CityNames() {
		if name == "" {
			t.Fatalf("empty city name in table")
		}
	}
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]City{{Name: "A"}, {Name: " A "}}, nil, nil)
	if err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestNewCatalogNormalizesZones(t *testing.T) {
	c, err := NewCatalog([]City{{Name: "A", PlatePrefix: "AA"}}, ZoneTable{" A ": {" 9101", "", "9102 "}}, nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	zones, ok := c.Zones("A")
	if !ok || len(zones) != 2 || zones[0] != "9101" || zones[1] != "9102" {
		t.Fatalf("unexpected zones %v", zones)
	}
	zones[0] = "mutated"
	again, _ := c.Zones("A")
	if again[0] != "9101" {
		t.Fatalf("catalog leaked internal slice")
	}
}

func TestPayZoneLookup(t *testing.T) {
	c, err := NewCatalog(nil, nil, map[string][]PayZone{"X": {{ShortLabel: "I", SMSNumber: "9001"}}})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	z, err := c.PayZone("X", "X-0")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if z.City != "X" || z.Label() != "I" {
		t.Fatalf("unexpected zone %+v", z)
	}
	if _, err := c.PayZone("Y", "X-0"); !errors.Is(err, ErrUnknownCity) {
		t.Fatalf("expected ErrUnknownCity got %v", err)
	}
	if _, err := c.PayZone("X", "X-9"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone got %v", err)
	}
}

func TestLoadDirWithoutPayZones(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cities.json"), []byte(`[{"name":"A","plate_prefix":"AA"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zones.json"), []byte(`{"A":["901"]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if _, ok := c.City("A"); !ok {
		t.Fatalf("city A missing")
	}
	if len(c.PayZones("A")) != 0 {
		t.Fatalf("expected no pay zones")
	}
}

func TestLoadDirRejectsArrayZoneTable(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "cities.json"), []byte(`[]`), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "zones.json"), []byte(`[{"grad":"A","zone":[]}]`), 0o644)
	if _, err := LoadDir(dir); err == nil {
		t.Fatalf("expected error for non-canonical zone table")
	}
}

func TestWatchReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("cities.json", `[{"name":"A","plate_prefix":"AA"}]`)
	write("zones.json", `{"A":["901"]}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Catalog, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, dir, 50*time.Millisecond, zerolog.Nop(), func(c *Catalog) { got <- c })
	}()
	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	write("cities.json", `[{"name":"A","plate_prefix":"AA"},{"name":"B","plate_prefix":"BB"}]`)

	select {
	case c := <-got:
		if _, ok := c.City("B"); !ok {
			t.Fatalf("reloaded catalog misses city B")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("catalog was not reloaded")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
