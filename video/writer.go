package video

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/redlight-go/clip"
)

// ClipCodec is the fourcc used for violation clips
const ClipCodec = "mp4v"

// ClipWriterFactory creates mp4 writers for clip.Exporter
type ClipWriterFactory struct{}

// Create implements clip.WriterFactory
func (ClipWriterFactory) Create(path string, fps float64, frameSize image.Point) (clip.Writer[gocv.Mat], error) {
	writer, err := gocv.VideoWriterFile(path, ClipCodec, fps, frameSize.X, frameSize.Y, true)
	if err != nil {
		return nil, errors.Wrap(err, "can't create video writer")
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, errors.Errorf("video writer for '%s' is not opened", path)
	}
	return &clipWriter{writer: writer, size: frameSize}, nil
}

type clipWriter struct {
	writer *gocv.VideoWriter
	size   image.Point
}

func (w *clipWriter) Write(frame gocv.Mat) error {
	if frame.Empty() {
		return errors.New("empty frame")
	}
	if frame.Cols() != w.size.X || frame.Rows() != w.size.Y {
		return errors.Errorf("frame is %dx%d, clip is %dx%d", frame.Cols(), frame.Rows(), w.size.X, w.size.Y)
	}
	return w.writer.Write(frame)
}

func (w *clipWriter) Close() error {
	return w.writer.Close()
}
