package media

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
)

// StartCode prefixes every NAL unit written to an output.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Capability is the codec local tracks are published with.
var H264Capability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeH264,
	ClockRate:   90000,
	SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
}

// LocalTrack publishes an Annex-B H264 stream read from a capture process
// and mirrors it to a preview output.
type LocalTrack struct {
	id     string
	track  *webrtc.TrackLocalStaticSample
	src    io.ReadCloser
	frame  time.Duration
	stopFn func() error
	out    *Output
	log    zerolog.Logger

	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// NewLocalTrack wraps src, an Annex-B H264 byte stream at fps frames per
// second. stop releases the capture behind src and may be nil.
func NewLocalTrack(id string, src io.ReadCloser, fps int, stop func() error, log zerolog.Logger) (*LocalTrack, error) {
	if fps <= 0 {
		fps = 30
	}
	track, err := webrtc.NewTrackLocalStaticSample(H264Capability, id, "livecam-"+id)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	t := &LocalTrack{
		id:     id,
		track:  track,
		src:    src,
		frame:  time.Second / time.Duration(fps),
		stopFn: stop,
		out:    NewOutput(),
		log:    log.With().Str("module", "media").Str("track", id).Logger(),
		ready:  make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

func (t *LocalTrack) ID() string              { return t.id }
func (t *LocalTrack) Kind() domain.TrackKind { return domain.KindVideo }

// TrackLocal is the pion track to add to a peer connection.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.track }

// Render mirrors the captured stream to w.
func (t *LocalTrack) Render(ctx context.Context, w io.Writer) error {
	return t.out.Attach(ctx, w)
}

// Ready waits for the first NAL unit. It returns the stream's error when
// the capture ends before producing anything.
func (t *LocalTrack) Ready(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.out.Done():
		select {
		case <-t.ready:
			return nil
		default:
		}
		if t.out.endErr != nil {
			return t.out.endErr
		}
		return io.ErrUnexpectedEOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the capture. Safe to call more than once.
func (t *LocalTrack) Stop() error {
	t.stopOnce.Do(func() {
		_ = t.src.Close()
		if t.stopFn != nil {
			t.stopErr = t.stopFn()
		}
		<-t.out.Done()
		t.log.Info().Msg("capture stopped")
	})
	return t.stopErr
}

func (t *LocalTrack) pump() {
	reader, err := h264reader.NewReader(t.src)
	if err != nil {
		t.out.End(fmt.Errorf("h264 reader: %w", err))
		return
	}

	for {
		nal, err := reader.NextNAL()
		if err != nil {
			t.out.End(err)
			return
		}
		t.readyOnce.Do(func() { close(t.ready) })

		// Only slices advance the clock; parameter sets share the
		// timestamp of the frame they precede.
		var d time.Duration
		if nal.UnitType == h264reader.NalUnitTypeCodedSliceIdr || nal.UnitType == h264reader.NalUnitTypeCodedSliceNonIdr {
			d = t.frame
		}
		if err := t.track.WriteSample(pionmedia.Sample{Data: nal.Data, Duration: d}); err != nil {
			t.log.Debug().Err(err).Msg("write sample")
		}

		_, _ = t.out.Write(append(StartCode[:len(StartCode):len(StartCode)], nal.Data...))
	}
}
