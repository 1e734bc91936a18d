package config

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/LdDl/redlight-go/mot"
	"github.com/LdDl/redlight-go/zone"
)

// Validate checks the configuration and fills optional fields
func Validate(cfg *Config) error {
	// Source
	if cfg.Source.Camera != nil {
		if *cfg.Source.Camera < 0 {
			return errors.Errorf("source.camera must be >= 0, got %d", *cfg.Source.Camera)
		}
	} else if strings.TrimSpace(cfg.Source.Path) == "" {
		return errors.New("source.path or source.camera is required")
	}

	// Models
	if cfg.Models.VehiclePath == "" {
		return errors.New("models.vehicle_path is required")
	}
	if cfg.Models.LightPath == "" {
		return errors.New("models.light_path is required")
	}
	if cfg.Models.Confidence <= 0 || cfg.Models.Confidence > 1 {
		return errors.Errorf("models.confidence must be in (0, 1], got %v", cfg.Models.Confidence)
	}
	if cfg.Models.LightConfidence <= 0 || cfg.Models.LightConfidence > 1 {
		return errors.Errorf("models.light_confidence must be in (0, 1], got %v", cfg.Models.LightConfidence)
	}
	if cfg.Models.InputSize <= 0 || cfg.Models.InputSize%32 != 0 {
		return errors.Errorf("models.input_size must be a positive multiple of 32, got %d", cfg.Models.InputSize)
	}

	// Zone
	if err := ValidateZone(cfg.Zone); err != nil {
		return errors.Wrap(err, "zone validation failed")
	}

	// Recording
	if cfg.Recording.PreSeconds <= 0 {
		return errors.New("recording.pre_seconds must be > 0")
	}
	if cfg.Recording.PostSeconds <= 0 {
		return errors.New("recording.post_seconds must be > 0")
	}
	if cfg.Recording.ClipsDir == "" {
		return errors.New("recording.clips_dir is required")
	}
	if cfg.Recording.LogPath == "" {
		return errors.New("recording.log_path is required")
	}
	if cfg.Recording.FallbackFPS <= 0 {
		cfg.Recording.FallbackFPS = 30
	}

	// Pipeline
	if cfg.Pipeline.LightInterval <= 0 {
		return errors.New("pipeline.light_interval must be > 0")
	}
	if cfg.Pipeline.ErrorBuffer <= 0 {
		cfg.Pipeline.ErrorBuffer = 16
	}

	// Tracker
	switch cfg.Tracker.Algorithm {
	case mot.AlgorithmByteTrack, mot.AlgorithmIoU, mot.AlgorithmCentroid:
	default:
		return errors.Errorf("tracker.algorithm must be one of bytetrack, iou, centroid, got '%s'", cfg.Tracker.Algorithm)
	}
	if cfg.Tracker.MaxDisappeared <= 0 {
		return errors.New("tracker.max_disappeared must be > 0")
	}
	if cfg.Tracker.LowThresh > cfg.Tracker.HighThresh {
		return errors.Errorf("tracker.low_thresh (%v) must not exceed tracker.high_thresh (%v)", cfg.Tracker.LowThresh, cfg.Tracker.HighThresh)
	}
	if cfg.Tracker.ConfirmHits <= 0 {
		cfg.Tracker.ConfirmHits = 1
	}

	// Registry
	if cfg.Registry.MemoryLimit <= 0 {
		cfg.Registry.MemoryLimit = 500
	}
	if cfg.Registry.QueryLimit <= 0 || cfg.Registry.QueryLimit > 50 {
		cfg.Registry.QueryLimit = 50
	}

	// HTTP
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if cfg.HTTP.ShutdownTimeoutS <= 0 {
		cfg.HTTP.ShutdownTimeoutS = 5
	}
	if cfg.HTTP.ReadHeaderTimeout <= 0 {
		cfg.HTTP.ReadHeaderTimeout = 10
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return errors.Errorf("log.level must be debug, info, warn or error, got '%s'", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	case "":
		cfg.Log.Format = "text"
	default:
		return errors.Errorf("log.format must be text or json, got '%s'", cfg.Log.Format)
	}
	return nil
}

// ValidateZone checks every point is [x, y] and there are enough of them
func ValidateZone(coords [][]int) error {
	_, err := zone.FromPairs(coords)
	return err
}
