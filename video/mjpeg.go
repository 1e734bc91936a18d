package video

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/redlight-go/stream"
)

// DefaultJPEGQuality for streamed frames
const DefaultJPEGQuality = 80

// MJPEGSink encodes frames to JPEG and publishes them to a stream.Feed.
// Emit blocks until a viewer takes the frame.
type MJPEGSink struct {
	feed    *stream.Feed
	quality int
}

// NewMJPEGSink creates sink publishing into feed
func NewMJPEGSink(feed *stream.Feed, quality int) *MJPEGSink {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEGSink{feed: feed, quality: quality}
}

// Emit implements pipeline.Sink
func (s *MJPEGSink) Emit(ctx context.Context, frame gocv.Mat) error {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return errors.Wrap(err, "can't encode frame")
	}
	data := bytes.Clone(buf.GetBytes())
	buf.Close()
	return s.feed.Publish(ctx, data)
}
