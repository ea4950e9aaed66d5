// Package config loads settings from defaults, an optional config file,
// a local .env file and PARKING_* environment variables.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Reference ReferenceConfig `mapstructure:"reference"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Upload    UploadConfig    `mapstructure:"upload"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	// DSN selects the Postgres preference store; empty keeps preferences in memory.
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type ReferenceConfig struct {
	// Dir overrides the embedded cities.json, zones.json and payzones.json.
	Dir string `mapstructure:"dir"`
}

type OCRConfig struct {
	Language  string `mapstructure:"language"`
	Whitelist string `mapstructure:"whitelist"`
}

type PreprocessConfig struct {
	Grayscale bool `mapstructure:"grayscale"`
	Contrast  bool `mapstructure:"contrast"`
	Threshold bool `mapstructure:"threshold"`
	Denoise   bool `mapstructure:"denoise"`
}

type ScanConfig struct {
	RegionWorkers  int              `mapstructure:"region_workers"`
	Preprocess     PreprocessConfig `mapstructure:"preprocess"`
	ContrastAmount float64          `mapstructure:"contrast_amount"`
	ThresholdBias  int              `mapstructure:"threshold_bias"`
	// LocateTimeout bounds the nearest-city lookup.
	LocateTimeout time.Duration `mapstructure:"locate_timeout"`
	// IdleTimeout evicts HTTP scans nobody touched for this long; 0 keeps them.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type ScannerConfig struct {
	Workers  int           `mapstructure:"workers"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type UploadConfig struct {
	Dir     string `mapstructure:"dir"`
	MaxSize int64  `mapstructure:"max_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("reference.dir", "")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.whitelist", "")
	v.SetDefault("scan.region_workers", 4)
	v.SetDefault("scan.preprocess.grayscale", false)
	v.SetDefault("scan.preprocess.contrast", false)
	v.SetDefault("scan.preprocess.threshold", false)
	v.SetDefault("scan.preprocess.denoise", false)
	v.SetDefault("scan.contrast_amount", 20.0)
	v.SetDefault("scan.threshold_bias", 7)
	v.SetDefault("scan.locate_timeout", 5*time.Second)
	v.SetDefault("scan.idle_timeout", 30*time.Minute)
	v.SetDefault("scanner.workers", 2)
	v.SetDefault("scanner.debounce", 500*time.Millisecond)
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.max_size", 5*1024*1024)
}

// Load reads the configuration. path may name a config file; when empty,
// config.{yaml,json,toml} in the working directory is used if present.
// Environment variables win over the file, e.g. PARKING_DATABASE_DSN.
func Load(path string) (*Config, error) {
	LoadDotEnv(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PARKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Scan.RegionWorkers <= 0 {
		cfg.Scan.RegionWorkers = 1
	}
	if cfg.Scanner.Workers <= 0 {
		cfg.Scanner.Workers = 1
	}
	return &cfg, nil
}

// LoadDotEnv loads key=value pairs from a local .env file into the
// environment without overwriting variables that are already set. Lines
// starting with # are ignored.
func LoadDotEnv(path string) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"'`)
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}
