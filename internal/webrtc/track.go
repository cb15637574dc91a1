package webrtc

import (
	"context"
	"io"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
	"livecam/native/internal/media"
)

// remoteTrack is an incoming track. Video is depacketized into Annex-B
// H264; other kinds are drained.
type remoteTrack struct {
	track *pion.TrackRemote
	kind  domain.TrackKind
	out   *media.Output
	log   zerolog.Logger
}

func newRemoteTrack(track *pion.TrackRemote, log zerolog.Logger) *remoteTrack {
	kind := domain.KindAudio
	if track.Kind() == pion.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}
	t := &remoteTrack{
		track: track,
		kind:  kind,
		out:   media.NewOutput(),
		log:   log.With().Str("track", track.ID()).Str("kind", string(kind)).Logger(),
	}
	if kind == domain.KindVideo {
		go t.readVideo()
	} else {
		go t.drain()
	}
	return t
}

func (t *remoteTrack) ID() string              { return t.track.ID() }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) Render(ctx context.Context, w io.Writer) error {
	return t.out.Attach(ctx, w)
}

func (t *remoteTrack) readVideo() {
	t.log.Info().Str("codec", t.track.Codec().MimeType).Msg("reading video track")

	depack := NewH264Depacketizer()
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			t.log.Debug().Err(err).Msg("video track ended")
			t.out.End(io.EOF)
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			_, _ = t.out.Write(append(media.StartCode[:len(media.StartCode):len(media.StartCode)], nalu...))
		}
	}
}

func (t *remoteTrack) drain() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.track.Read(buf); err != nil {
			t.out.End(io.EOF)
			return
		}
	}
}
