package domain

import (
	"context"
	"io"
)

// TokenAcquirer obtains session credentials from the token minting service.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, req TokenRequest, authToken string) (*Credential, error)
}

// TrackKind is the media kind of a track.
type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// Track is a single media stream.
type Track interface {
	ID() string
	Kind() TrackKind
	// Render writes the track's output to w until ctx is done or the
	// track ends. Only one Render per track is active at a time; a new
	// call takes over from the previous one.
	Render(ctx context.Context, w io.Writer) error
}

// LocalTrack is a track produced by a local capture.
type LocalTrack interface {
	Track
	Stop() error
}

// OpenOptions configures a transport session.
type OpenOptions struct {
	AutoSubscribe bool
}

// Transport opens sessions against the real-time media service.
type Transport interface {
	Open(ctx context.Context, cred *Credential, opts OpenOptions) (TransportSession, error)
}

// TransportSession is an open media session.
type TransportSession interface {
	// Publish sends a local track to the room.
	Publish(ctx context.Context, track LocalTrack) error
	// Tracks yields incoming tracks as they become available. The channel
	// is closed when the session ends and is never reopened.
	Tracks() <-chan Track
	Close() error
}

// CaptureConstraints describe the requested local capture.
type CaptureConstraints struct {
	DeviceID string
	Width    int
	Height   int
	Audio    bool
}

// Capturer acquires local media.
type Capturer interface {
	Capture(ctx context.Context, c CaptureConstraints) (LocalTrack, error)
}

// DeviceKind mirrors the platform's media device kinds.
type DeviceKind string

const (
	DeviceVideoInput  DeviceKind = "videoinput"
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

// MediaDevice is one entry of the platform device enumeration.
type MediaDevice struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// DeviceEnumerator lists the platform's media devices.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]MediaDevice, error)
}

// Signaler manages the WebSocket signaling connection.
type Signaler interface {
	Connect(ctx context.Context) error
	SendJoin(req JoinRequest)
	SendOffer(sdp string)
	SendAnswer(sdp string)
	SendICECandidate(sdpMid string, sdpMLineIndex int, candidate string)
	SendLeave()
	Close()
	Done() <-chan struct{}
}

// SignalHandler receives signaling events.
type SignalHandler interface {
	OnJoined(res JoinResult)
	OnJoinFailed(code int, msg string)
	OnOffer(sdp SDPPayload)
	OnAnswer(sdp SDPPayload)
	OnRemoteICECandidate(candidate ICECandidatePayload)
	OnLeave(reason string)
}
