package rtc

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gocv.io/x/gocv"

	"github.com/ayusman/bisindo/internal/log"
)

// Encoder settings for the annotated stream.
const (
	BitRate          = 2_000_000
	KeyFrameInterval = 60
)

// frameReader feeds single frames to the encoder on demand.
type frameReader struct {
	frames chan image.Image
}

func newFrameReader() *frameReader {
	return &frameReader{frames: make(chan image.Image, 1)}
}

func (r *frameReader) Read() (image.Image, func(), error) {
	frame, ok := <-r.frames
	if !ok {
		return nil, func() {}, fmt.Errorf("frame channel closed")
	}
	return frame, func() {}, nil
}

// Broadcaster encodes annotated frames to VP8 once and shares the resulting
// track with every connected peer. It implements stream.Sink.
type Broadcaster struct {
	track    *webrtc.TrackLocalStaticSample
	duration time.Duration

	mu      sync.Mutex
	reader  *frameReader
	encoder interface {
		Read() ([]byte, func(), error)
		Close() error
	}
	size    image.Point
	peers   int
	rebuild bool
	samples uint64
}

// NewBroadcaster creates the shared track. fps sets the sample duration.
func NewBroadcaster(fps int) (*Broadcaster, error) {
	if fps <= 0 {
		fps = 15
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"bisindo",
	)
	if err != nil {
		return nil, fmt.Errorf("create track: %w", err)
	}

	return &Broadcaster{
		track:    track,
		duration: time.Second / time.Duration(fps),
	}, nil
}

// Track returns the track to attach to peer connections.
func (b *Broadcaster) Track() *webrtc.TrackLocalStaticSample {
	return b.track
}

// AddPeer registers a viewer. The next frame starts a fresh encoder so the
// newcomer receives a keyframe.
func (b *Broadcaster) AddPeer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers++
	b.rebuild = true
}

// RemovePeer unregisters a viewer. The encoder is released with the last one.
func (b *Broadcaster) RemovePeer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peers > 0 {
		b.peers--
	}
	if b.peers == 0 {
		b.closeEncoder()
	}
}

// Peers returns the number of registered viewers.
func (b *Broadcaster) Peers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peers
}

// Samples returns how many encoded samples were written.
func (b *Broadcaster) Samples() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

// WriteFrame encodes frame and writes it to the track. With no viewers the
// frame is dropped without encoding.
func (b *Broadcaster) WriteFrame(frame *gocv.Mat) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.peers == 0 {
		return nil
	}

	img, err := ToYCbCr(frame)
	if err != nil {
		return err
	}

	size := img.Rect.Size()
	if b.encoder == nil || b.rebuild || size != b.size {
		if err := b.buildEncoder(size); err != nil {
			return err
		}
	}

	b.reader.frames <- img

	data, release, err := b.encoder.Read()
	defer release()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	if err := b.track.WriteSample(media.Sample{Data: data, Duration: b.duration}); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	b.samples++
	return nil
}

func (b *Broadcaster) buildEncoder(size image.Point) error {
	b.closeEncoder()

	params, err := vpx.NewVP8Params()
	if err != nil {
		return fmt.Errorf("vp8 params: %w", err)
	}
	params.BitRate = BitRate
	params.KeyFrameInterval = KeyFrameInterval

	reader := newFrameReader()
	encoder, err := params.BuildVideoEncoder(reader, prop.Media{
		Video: prop.Video{
			Width:  size.X,
			Height: size.Y,
		},
	})
	if err != nil {
		return fmt.Errorf("build encoder: %w", err)
	}

	b.reader = reader
	b.encoder = encoder
	b.size = size
	b.rebuild = false
	log.Debug("vp8 encoder ready", "width", size.X, "height", size.Y)
	return nil
}

func (b *Broadcaster) closeEncoder() {
	if b.encoder == nil {
		return
	}
	if err := b.encoder.Close(); err != nil {
		log.Warn("close encoder", "err", err)
	}
	b.encoder = nil
	b.reader = nil
}

// Close releases the encoder.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeEncoder()
	return nil
}
