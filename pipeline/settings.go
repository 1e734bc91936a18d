package pipeline

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/LdDl/redlight-go/zone"
)

// SourceSpec describes video input: a file path or a camera device index
type SourceSpec struct {
	Path      string
	Camera    int
	UseCamera bool
}

// FileSource is a spec for video file or stream URL
func FileSource(path string) SourceSpec {
	return SourceSpec{Path: path}
}

// CameraSource is a spec for capture device
func CameraSource(device int) SourceSpec {
	return SourceSpec{Camera: device, UseCamera: true}
}

// Validate checks spec is usable
func (s SourceSpec) Validate() error {
	if s.UseCamera {
		if s.Camera < 0 {
			return errors.Errorf("bad camera index %d", s.Camera)
		}
		return nil
	}
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("empty source path")
	}
	return nil
}

func (s SourceSpec) String() string {
	if s.UseCamera {
		return fmt.Sprintf("camera:%d", s.Camera)
	}
	return s.Path
}

// Settings is runtime configuration shared between the orchestrator and control callers.
// The zone is read every frame; the source is read when a run starts.
type Settings struct {
	zone   *zone.Zone
	source atomic.Pointer[SourceSpec]
}

// NewSettings creates settings handle
func NewSettings(z *zone.Zone, source SourceSpec) (*Settings, error) {
	if z == nil {
		return nil, errors.New("nil zone")
	}
	s := &Settings{zone: z}
	if err := s.SetSource(source); err != nil {
		return nil, err
	}
	return s, nil
}

// Zone returns the active zone handle
func (s *Settings) Zone() *zone.Zone {
	return s.zone
}

// Source returns spec used by the next run
func (s *Settings) Source() SourceSpec {
	return *s.source.Load()
}

// SetSource replaces source for subsequent runs. A running pipeline is not affected.
func (s *Settings) SetSource(spec SourceSpec) error {
	if err := spec.Validate(); err != nil {
		return errors.Wrap(err, "invalid source")
	}
	s.source.Store(&spec)
	return nil
}
