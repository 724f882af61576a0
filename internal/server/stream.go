package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"
)

// Preview serves the annotated stream as MJPEG. It is a stream.Sink.
type Preview struct {
	stream  *mjpeg.Stream
	clients atomic.Int32
	frames  atomic.Uint64
}

// NewPreview creates an empty MJPEG preview.
func NewPreview() *Preview {
	return &Preview{stream: mjpeg.NewStream()}
}

// WriteFrame encodes frame as JPEG and publishes it. Frames are only encoded
// while a client is watching.
func (p *Preview) WriteFrame(frame *gocv.Mat) error {
	if p.clients.Load() == 0 {
		return nil
	}
	if frame == nil || frame.Empty() {
		return errors.New("preview: empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return fmt.Errorf("preview: encode jpeg: %w", err)
	}
	defer buf.Close()

	p.stream.UpdateJPEG(buf.GetBytes())
	p.frames.Add(1)
	return nil
}

// Clients returns the number of connected viewers.
func (p *Preview) Clients() int {
	return int(p.clients.Load())
}

// Frames returns the number of frames published.
func (p *Preview) Frames() uint64 {
	return p.frames.Load()
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p.clients.Add(1)
	defer p.clients.Add(-1)

	w.Header().Set("Cache-Control", "no-cache")
	p.stream.ServeHTTP(w, r)
}
