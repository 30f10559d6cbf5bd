package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"memeMe/matrixdisplay"
	"memeMe/overlay"
)

const defaultConfigPath = "memeMe.toml"

// Config holds the settings of every command. Any of them can be left out of
// the file.
type Config struct {
	Listen     string       `json:"listen" toml:"listen" yaml:"listen" validate:"required,hostname_port"`
	LibraryDir string       `json:"library_dir" toml:"library_dir" yaml:"library_dir" validate:"required"`
	Database   string       `json:"database" toml:"database" yaml:"database"`
	OutboxDir  string       `json:"outbox_dir" toml:"outbox_dir" yaml:"outbox_dir"`
	InboxDir   string       `json:"inbox_dir" toml:"inbox_dir" yaml:"inbox_dir"`
	Render     RenderConfig `json:"render" toml:"render" yaml:"render"`
	Matrix     MatrixConfig `json:"matrix" toml:"matrix" yaml:"matrix"`
	Log        LogConfig    `json:"log" toml:"log" yaml:"log"`
}

// RenderConfig tunes caption rendering. Ratios are fractions of the image.
// Every value must be positive; overlay reads zero as "use the default".
type RenderConfig struct {
	SizeRatio   float64 `json:"size_ratio" toml:"size_ratio" yaml:"size_ratio" validate:"gt=0,lte=1"`
	MinSize     float64 `json:"min_size" toml:"min_size" yaml:"min_size" validate:"gt=0"`
	MarginRatio float64 `json:"margin_ratio" toml:"margin_ratio" yaml:"margin_ratio" validate:"gt=0,lt=0.5"`
	StrokeRatio float64 `json:"stroke_ratio" toml:"stroke_ratio" yaml:"stroke_ratio" validate:"gt=0,lte=0.5"`
}

type MatrixConfig struct {
	Enabled    bool `json:"enabled" toml:"enabled" yaml:"enabled"`
	Brightness int  `json:"brightness" toml:"brightness" yaml:"brightness"`
}

type LogConfig struct {
	Development bool `json:"development" toml:"development" yaml:"development"`
}

func defaultConfig() Config {
	return Config{
		Listen:     "127.0.0.1:8080",
		LibraryDir: "memes",
		OutboxDir:  "outbox",
		Render: RenderConfig{
			SizeRatio:   overlay.DefaultSizeRatio,
			MinSize:     overlay.DefaultMinSize,
			MarginRatio: overlay.DefaultMarginRatio,
			StrokeRatio: overlay.DefaultStrokeRatio,
		},
		Matrix: MatrixConfig{Brightness: matrixdisplay.DefaultBrightness},
	}
}

// loadConfig reads path over the defaults. A missing or empty file is not an
// error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := decodeConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func decodeConfigFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load config: open %q: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("load config: read %q: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("load config: unsupported format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("load config: parse %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets MEMEME_LISTEN and MEMEME_LIBRARY win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEMEME_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MEMEME_LIBRARY"); v != "" {
		c.LibraryDir = v
	}
}

func (c Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Matrix.Brightness < 1 || c.Matrix.Brightness > 100 {
		return fmt.Errorf("matrix brightness must be between 1 and 100, got %d", c.Matrix.Brightness)
	}
	return nil
}

// Style turns the render settings into an overlay style.
func (c Config) Style() overlay.Style {
	style := overlay.DefaultStyle()
	style.SizeRatio = c.Render.SizeRatio
	style.MinSize = c.Render.MinSize
	style.MarginRatio = c.Render.MarginRatio
	style.StrokeRatio = c.Render.StrokeRatio
	return style
}
