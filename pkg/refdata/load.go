package refdata

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	citiesFile   = "cities.json"
	zonesFile    = "zones.json"
	payZonesFile = "payzones.json"
)

//go:embed data/*.json
var embedded embed.FS

// Default loads the tables bundled with the binary.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadDir loads the tables from a directory. payzones.json is optional.
func LoadDir(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(filepath.Clean(dir)))
}

// Load uses dir when set and the bundled tables otherwise.
func Load(dir string) (*Catalog, error) {
	if dir == "" {
		return Default()
	}
	return LoadDir(dir)
}

// LoadFS loads cities.json, zones.json and the optional payzones.json from fsys.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	var cities []City
	if err := decodeFile(fsys, citiesFile, &cities); err != nil {
		return nil, err
	}
	var zones ZoneTable
	if err := decodeFile(fsys, zonesFile, &zones); err != nil {
		return nil, err
	}
	payZones := map[string][]PayZone{}
	if err := decodeFile(fsys, payZonesFile, &payZones); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return NewCatalog(cities, zones, payZones)
}

func decodeFile(fsys fs.FS, name string, v any) error {
	f, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	return decode(f, name, v)
}

func decode(r io.Reader, name string, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
