// Package stream hands encoded frames from the pipeline worker to HTTP viewers.
package stream

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"

	"github.com/pkg/errors"
)

// Boundary separates MJPEG parts
const Boundary = "frame"

// ContentType of an MJPEG response
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Feed is an unbuffered rendezvous between one producer and its viewers.
// Publish blocks until some viewer takes the frame; each frame goes to exactly one viewer.
type Feed struct {
	frames chan []byte
}

// NewFeed creates feed
func NewFeed() *Feed {
	return &Feed{frames: make(chan []byte)}
}

// Publish hands frame to a viewer. The slice must not be modified afterwards.
func (f *Feed) Publish(ctx context.Context, frame []byte) error {
	select {
	case f.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next waits for the next frame
func (f *Feed) Next(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flusher is implemented by writers able to push buffered data to the client
type Flusher interface {
	Flush()
}

// WriteMJPEG copies JPEG frames from feed to w as multipart parts until ctx is done or a write fails
func WriteMJPEG(ctx context.Context, w io.Writer, feed *Feed) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return errors.Wrap(err, "can't set boundary")
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	for {
		frame, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		header.Set("Content-Length", fmt.Sprint(len(frame)))
		part, err := mw.CreatePart(header)
		if err != nil {
			return errors.Wrap(err, "can't start part")
		}
		if _, err := part.Write(frame); err != nil {
			return errors.Wrap(err, "can't write frame")
		}
		if flusher, ok := w.(Flusher); ok {
			flusher.Flush()
		}
	}
}
