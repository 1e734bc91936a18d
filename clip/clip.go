// Package clip writes buffered frames around a violation to a standalone
// video file.
package clip

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrClipWrite wraps every failure to produce a clip artifact. It is recoverable.
	ErrClipWrite = errors.New("clip write failure")
	// ErrEmptyClip is returned when there is nothing to write
	ErrEmptyClip = errors.New("no frames to export")
)

// Filename builds clip name for a violating track detected at t
func Filename(trackID int, t time.Time) string {
	return fmt.Sprintf("violation_id_%d_%s.mp4", trackID, t.Format("20060102_150405"))
}

// Writer writes frames sequentially into a single artifact
type Writer[F any] interface {
	Write(frame F) error
	Close() error
}

// WriterFactory opens a Writer for a new artifact at path
type WriterFactory[F any] interface {
	Create(path string, fps float64, frameSize image.Point) (Writer[F], error)
}

// Result describes a written clip
type Result struct {
	Path   string
	Frames int
}

// Exporter stores clips in a directory
type Exporter[F any] struct {
	dir     string
	factory WriterFactory[F]
	logger  *slog.Logger
}

// NewExporter creates exporter writing to dir through factory
func NewExporter[F any](dir string, factory WriterFactory[F], logger *slog.Logger) *Exporter[F] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter[F]{
		dir:     dir,
		factory: factory,
		logger:  logger.With("component", "clip"),
	}
}

// Dir returns clips directory
func (e *Exporter[F]) Dir() string {
	return e.dir
}

// Export writes frames in order to dir/filename at fps and frameSize.
// A partially written file is removed on failure.
func (e *Exporter[F]) Export(frames []F, filename string, fps float64, frameSize image.Point) (Result, error) {
	path := filepath.Join(e.dir, filename)
	if len(frames) == 0 {
		return Result{Path: path}, ErrEmptyClip
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Result{Path: path}, errors.Wrapf(ErrClipWrite, "can't create clips dir: %v", err)
	}

	e.logger.Debug("saving violation clip", "path", path, "frames", len(frames), "fps", fps)
	writer, err := e.factory.Create(path, fps, frameSize)
	if err != nil {
		return Result{Path: path}, errors.Wrapf(ErrClipWrite, "can't open writer for %s: %v", path, err)
	}
	written := 0
	for _, frame := range frames {
		if err = writer.Write(frame); err != nil {
			break
		}
		written++
	}
	closeErr := writer.Close()
	if err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			e.logger.Warn("can't remove partial clip", "path", path, "error", rmErr.Error())
		}
		return Result{Path: path, Frames: written}, errors.Wrapf(ErrClipWrite, "%s after %d of %d frames: %v", path, written, len(frames), err)
	}
	e.logger.Info("clip saved", "path", path, "frames", written)
	return Result{Path: path, Frames: written}, nil
}
