package config

import (
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/pipeline"
	"github.com/LdDl/redlight-go/zone"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	poly, err := cfg.ZonePolygon()
	require.NoError(t, err)
	assert.Equal(t, zone.Polygon{image.Pt(1149, 471), image.Pt(1121, 518), image.Pt(32, 428), image.Pt(69, 381)}, poly)
	assert.Equal(t, pipeline.FileSource("data/demo3.mp4"), cfg.SourceSpec())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	opts := cfg.TrackerOptions()
	assert.Equal(t, mot.AlgorithmByteTrack, opts.Algorithm)
	assert.Equal(t, 30, opts.MaxDisappeared)
	assert.Equal(t, 3, opts.ConfirmHits)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  camera: 1
zone: [[0, 0], [100, 0], [100, 100]]
recording:
  pre_seconds: 2
tracker:
  algorithm: iou
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.CameraSource(1), cfg.SourceSpec())
	assert.Equal(t, 2.0, cfg.Recording.PreSeconds)
	// Untouched sections keep defaults
	assert.Equal(t, 0.5, cfg.Recording.PostSeconds)
	assert.Equal(t, "logs/clips", cfg.Recording.ClipsDir)
	assert.Equal(t, mot.AlgorithmIoU, cfg.Tracker.Algorithm)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Len(t, cfg.Zone, 3)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, "zone: [[1, 2], oops"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(cfg *Config){
		"two point zone":    func(cfg *Config) { cfg.Zone = [][]int{{0, 0}, {1, 1}} },
		"bad zone point":    func(cfg *Config) { cfg.Zone = [][]int{{0, 0}, {1, 1}, {2}} },
		"no source":         func(cfg *Config) { cfg.Source.Path = "" },
		"negative camera":   func(cfg *Config) { cam := -1; cfg.Source.Camera = &cam },
		"zero confidence":   func(cfg *Config) { cfg.Models.Confidence = 0 },
		"odd input size":    func(cfg *Config) { cfg.Models.InputSize = 600 },
		"zero pre window":   func(cfg *Config) { cfg.Recording.PreSeconds = 0 },
		"negative post":     func(cfg *Config) { cfg.Recording.PostSeconds = -1 },
		"unknown algorithm": func(cfg *Config) { cfg.Tracker.Algorithm = "deepsort" },
		"low above high":    func(cfg *Config) { cfg.Tracker.LowThresh = 0.9 },
		"zero interval":     func(cfg *Config) { cfg.Pipeline.LightInterval = 0 },
		"bad log level":     func(cfg *Config) { cfg.Log.Level = "loud" },
		"bad log format":    func(cfg *Config) { cfg.Log.Format = "xml" },
		"no http addr":      func(cfg *Config) { cfg.HTTP.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateZoneIsInvalidZone(t *testing.T) {
	err := ValidateZone([][]int{{0, 0}, {1, 1}})
	assert.True(t, errors.Is(err, zone.ErrInvalidZone))
	assert.NoError(t, ValidateZone([][]int{{0, 0}, {1, 1}, {2, 2}}))
}

func TestValidateFillsOptional(t *testing.T) {
	cfg := Default()
	cfg.Registry.QueryLimit = 500
	cfg.Registry.MemoryLimit = 0
	cfg.Log.Format = ""
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 50, cfg.Registry.QueryLimit)
	assert.Equal(t, 500, cfg.Registry.MemoryLimit)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "redlight.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Zone, cfg.Zone)
}
