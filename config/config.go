// Package config loads daemon settings from YAML.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/pipeline"
	"github.com/LdDl/redlight-go/zone"
)

// Config is the complete daemon configuration
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Models    ModelsConfig    `yaml:"models"`
	Zone      [][]int         `yaml:"zone"` // [[x1,y1], [x2,y2], ...]
	Recording RecordingConfig `yaml:"recording"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Registry  RegistryConfig  `yaml:"registry"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// SourceConfig selects video input. Camera wins over Path when set.
type SourceConfig struct {
	Path   string `yaml:"path"`
	Camera *int   `yaml:"camera,omitempty"`
}

// ModelsConfig contains ONNX detector settings
type ModelsConfig struct {
	VehiclePath     string  `yaml:"vehicle_path"`
	LightPath       string  `yaml:"light_path"`
	Confidence      float64 `yaml:"confidence"`
	LightConfidence float64 `yaml:"light_confidence"`
	InputSize       int     `yaml:"input_size"` // square network input, pixels
}

// RecordingConfig contains clip and log settings
type RecordingConfig struct {
	PreSeconds  float64 `yaml:"pre_seconds"`
	PostSeconds float64 `yaml:"post_seconds"`
	ClipsDir    string  `yaml:"clips_dir"`
	LogPath     string  `yaml:"log_path"`
	FallbackFPS float64 `yaml:"fallback_fps"` // when the source doesn't report fps
}

// PipelineConfig contains frame cycle settings
type PipelineConfig struct {
	LightInterval int `yaml:"light_interval"` // classify light every N frames
	ErrorBuffer   int `yaml:"error_buffer"`
}

// TrackerConfig contains vehicle tracker settings
type TrackerConfig struct {
	Algorithm      string  `yaml:"algorithm"` // bytetrack, iou, centroid
	MaxDisappeared int     `yaml:"max_disappeared"`
	MinIoU         float64 `yaml:"min_iou"`
	HighThresh     float64 `yaml:"high_thresh"`
	LowThresh      float64 `yaml:"low_thresh"`
	ConfirmHits    int     `yaml:"confirm_hits"`
}

// RegistryConfig contains violation registry settings
type RegistryConfig struct {
	MemoryLimit int `yaml:"memory_limit"`
	QueryLimit  int `yaml:"query_limit"`
}

// HTTPConfig contains control server settings
type HTTPConfig struct {
	Addr              string `yaml:"addr"`
	ShutdownTimeoutS  int    `yaml:"shutdown_timeout_s"`
	ReadHeaderTimeout int    `yaml:"read_header_timeout_s"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns configuration used when no file is given
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Path: "data/demo3.mp4",
		},
		Models: ModelsConfig{
			VehiclePath:     "models/vehicle.onnx",
			LightPath:       "models/light.onnx",
			Confidence:      0.3,
			LightConfidence: 0.4,
			InputSize:       640,
		},
		Zone: [][]int{{1149, 471}, {1121, 518}, {32, 428}, {69, 381}},
		Recording: RecordingConfig{
			PreSeconds:  0.5,
			PostSeconds: 0.5,
			ClipsDir:    "logs/clips",
			LogPath:     "logs/violations.csv",
			FallbackFPS: 30,
		},
		Pipeline: PipelineConfig{
			LightInterval: 10,
			ErrorBuffer:   16,
		},
		Tracker: TrackerConfig{
			Algorithm:      mot.AlgorithmByteTrack,
			MaxDisappeared: 30,
			MinIoU:         0.3,
			HighThresh:     0.5,
			LowThresh:      0.3,
			ConfirmHits:    3,
		},
		Registry: RegistryConfig{
			MemoryLimit: 500,
			QueryLimit:  50,
		},
		HTTP: HTTPConfig{
			Addr:              "127.0.0.1:5000",
			ShutdownTimeoutS:  5,
			ReadHeaderTimeout: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML file on top of Default and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// SourceSpec converts source section for the pipeline
func (cfg *Config) SourceSpec() pipeline.SourceSpec {
	if cfg.Source.Camera != nil {
		return pipeline.CameraSource(*cfg.Source.Camera)
	}
	return pipeline.FileSource(cfg.Source.Path)
}

// ZonePolygon converts zone section
func (cfg *Config) ZonePolygon() (zone.Polygon, error) {
	return zone.FromPairs(cfg.Zone)
}

// TrackerOptions converts tracker section
func (cfg *Config) TrackerOptions() mot.VehicleTrackerOptions {
	opts := mot.DefaultVehicleTrackerOptions()
	opts.Algorithm = cfg.Tracker.Algorithm
	opts.MaxDisappeared = cfg.Tracker.MaxDisappeared
	opts.MinIoU = cfg.Tracker.MinIoU
	opts.HighThresh = cfg.Tracker.HighThresh
	opts.LowThresh = cfg.Tracker.LowThresh
	opts.ConfirmHits = cfg.Tracker.ConfirmHits
	return opts
}

// SlogLevel parses log level, defaulting to info
func (cfg *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}
