// Package config loads the facetrack application configuration from TOML.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Engine kinds.
const (
	EngineCV   = "cv"
	EngineDlib = "dlib"
	EngineNone = "none"
)

// Store kinds.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the whole configuration file.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Engine  EngineConfig  `toml:"engine"`
	Tracker TrackerConfig `toml:"tracker"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
}

type LogConfig struct {
	Level      string `toml:"level" default:"info"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxAgeDays int    `toml:"max_age_days" default:"7"`
}

// MaxAge is the retention of rotated log files.
func (c LogConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// EngineConfig selects the detection and recognition engine. Relative
// model paths are resolved against ModelDir.
type EngineConfig struct {
	Kind          string `toml:"kind" default:"cv"`
	Detector      string `toml:"detector" default:"pigo"`
	ModelDir      string `toml:"model_dir" default:"models"`
	Model         string `toml:"model" default:"openface"`
	PigoCascade   string `toml:"pigo_cascade" default:"facefinder"`
	YuNetModel    string `toml:"yunet_model" default:"face_detection_yunet_2023mar.onnx"`
	Encoder       string `toml:"encoder" default:"nn4.small2.v1.t7"`
	EncoderConfig string `toml:"encoder_config"`
	MinFaceSize   int    `toml:"min_face_size" default:"100"`
	MaxFaceSize   int    `toml:"max_face_size" default:"1000"`
	Proxy         string `toml:"proxy"`
}

// Path resolves a model file name.
func (c EngineConfig) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ModelDir, name)
}

type TrackerConfig struct {
	// Parameters are applied with SetParameters when a tracker is created.
	Parameters       map[string]string `toml:"parameters"`
	Memory           string            `toml:"memory" default:"default"`
	MaxFaces         int               `toml:"max_faces" default:"5"`
	DetectionVersion int               `toml:"detection_version"`
	LockChecking     bool              `toml:"lock_checking" default:"true"`
}

// ParameterString renders Parameters as a key=value; batch in key order.
func (c TrackerConfig) ParameterString() string {
	keys := maps.Keys(c.Parameters)
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, c.Parameters[k])
	}
	return b.String()
}

type ServerConfig struct {
	Addr        string `toml:"addr" default:":8080"`
	BodyLimitMB int    `toml:"body_limit_mb" default:"16"`
	CORS        bool   `toml:"cors" default:"true"`
}

type StoreConfig struct {
	Kind  string `toml:"kind" default:"file"`
	Dir   string `toml:"dir" default:"memories"`
	DSN   string `toml:"dsn"`
	Table string `toml:"table" default:"tracker_memory"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	c := new(Config)
	defaults.SetDefaults(c)
	return c
}

// Load reads path over the defaults. An empty path yields the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value string
		allow []string
	}{
		{"engine.kind", c.Engine.Kind, []string{EngineCV, EngineDlib, EngineNone}},
		{"engine.detector", c.Engine.Detector, []string{"pigo", "yunet"}},
		{"store.kind", c.Store.Kind, []string{StoreFile, StoreMemory, StorePostgres}},
		{"log.format", c.Log.Format, []string{"", "json", "text"}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.allow, ch.value) {
			return fmt.Errorf("%s: %q is not one of %v", ch.name, ch.value, ch.allow)
		}
	}
	if c.Store.Kind == StorePostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres store")
	}
	if c.Tracker.MaxFaces <= 0 {
		return fmt.Errorf("tracker.max_faces must be positive, got %d", c.Tracker.MaxFaces)
	}
	return nil
}
