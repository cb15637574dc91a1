package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
	"livecam/native/internal/media"
	"livecam/native/internal/signal"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

var defaultICEServers = []pion.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// Options configures the Transport.
type Options struct {
	MediaURL     string
	PingInterval time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates, for media servers on
	// the same host.
	IncludeLoopback bool
}

// Transport opens media sessions over WebRTC with websocket signaling.
// It implements domain.Transport.
type Transport struct {
	opts Options
	log  zerolog.Logger

	newSignaler func(cred *domain.Credential, h domain.SignalHandler) domain.Signaler
}

// NewTransport creates a Transport.
func NewTransport(opts Options, log zerolog.Logger) *Transport {
	t := &Transport{opts: opts, log: log.With().Str("module", "webrtc").Logger()}
	t.newSignaler = func(cred *domain.Credential, h domain.SignalHandler) domain.Signaler {
		return signal.NewClient(opts.MediaURL, cred, opts.PingInterval, h, log)
	}
	return t
}

// newPeerConnection creates a PeerConnection that sends and receives H264.
func (t *Transport) newPeerConnection(iceServers []domain.ICEServer) (*pion.PeerConnection, error) {
	m := &pion.MediaEngine{}

	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: media.H264Capability,
		PayloadType:        102,
	}, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264: %w", err)
	}
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pliFactory)

	se := pion.SettingEngine{}
	if t.opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	servers := defaultICEServers
	if len(iceServers) > 0 {
		servers = make([]pion.ICEServer, 0, len(iceServers))
		for _, s := range iceServers {
			servers = append(servers, pion.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// Open joins the credential's room and returns once media can flow.
func (t *Transport) Open(ctx context.Context, cred *domain.Credential, opts domain.OpenOptions) (domain.TransportSession, error) {
	s := newSession(cred, t.log)
	s.signal = t.newSignaler(cred, s)

	if err := s.signal.Connect(ctx); err != nil {
		return nil, fmt.Errorf("signal connect: %w", err)
	}

	s.signal.SendJoin(domain.JoinRequest{
		Room:          cred.Room,
		Identity:      cred.Identity,
		Publish:       cred.Publish,
		AutoSubscribe: opts.AutoSubscribe,
	})

	var joined domain.JoinResult
	select {
	case joined = <-s.joined:
	case err := <-s.joinErr:
		s.Close()
		return nil, err
	case <-s.signal.Done():
		s.Close()
		return nil, errors.New("signaling closed before join completed")
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	pc, err := t.newPeerConnection(joined.ICEServers)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.attach(pc)

	// The control channel guarantees the first offer has an m-line even
	// when nothing is sent or received yet.
	if _, err := pc.CreateDataChannel("control", nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	if opts.AutoSubscribe {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			s.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	if err := s.negotiate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	select {
	case <-s.connected:
	case <-s.failed:
		s.Close()
		return nil, errors.New("peer connection failed")
	case <-s.signal.Done():
		s.Close()
		return nil, errors.New("signaling closed while connecting")
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	go s.watch()
	s.log.Info().Str("participant", joined.ParticipantID).Msg("session open")
	return s, nil
}

// Session is an open media session. It implements domain.TransportSession
// and domain.SignalHandler.
type Session struct {
	identity string
	signal   domain.Signaler
	log      zerolog.Logger

	pc      *pion.PeerConnection
	pcReady chan struct{}

	joined  chan domain.JoinResult
	joinErr chan error
	answers chan domain.SDPPayload

	negMu         sync.Mutex
	remoteDescSet chan struct{}
	remoteOnce    sync.Once

	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan struct{}
	failedOnce    sync.Once

	tracksMu     sync.Mutex
	tracks       chan domain.Track
	tracksClosed bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(cred *domain.Credential, log zerolog.Logger) *Session {
	return &Session{
		identity:      cred.Identity,
		log:           log.With().Str("identity", cred.Identity).Logger(),
		pcReady:       make(chan struct{}),
		joined:        make(chan domain.JoinResult, 1),
		joinErr:       make(chan error, 1),
		answers:       make(chan domain.SDPPayload, 1),
		remoteDescSet: make(chan struct{}),
		connected:     make(chan struct{}),
		failed:        make(chan struct{}),
		tracks:        make(chan domain.Track, 8),
		closed:        make(chan struct{}),
	}
}

func (s *Session) attach(pc *pion.PeerConnection) {
	s.pc = pc

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			s.log.Debug().Msg("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		sdpMid := ""
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		sdpMLineIndex := 0
		if init.SDPMLineIndex != nil {
			sdpMLineIndex = int(*init.SDPMLineIndex)
		}
		s.signal.SendICECandidate(sdpMid, sdpMLineIndex, init.Candidate)
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		s.log.Debug().Str("ice_state", state.String()).Msg("ICE connection state")
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.log.Info().Str("peer_connection_state", state.String()).Msg("peer state")
		switch state {
		case pion.PeerConnectionStateConnected:
			s.connectedOnce.Do(func() { close(s.connected) })
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed:
			s.failedOnce.Do(func() { close(s.failed) })
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		s.log.Info().Str("kind", track.Kind().String()).Str("codec", codec.MimeType).Uint8("pt", uint8(codec.PayloadType)).Msg("got track")
		s.publishTrack(newRemoteTrack(track, s.log))
	})

	close(s.pcReady)
}

func (s *Session) publishTrack(t domain.Track) {
	s.tracksMu.Lock()
	defer s.tracksMu.Unlock()
	// A send racing the closed case could still pick a closed channel.
	if s.tracksClosed {
		return
	}
	select {
	case s.tracks <- t:
	case <-s.closed:
	}
}

// Tracks yields incoming tracks until the session closes.
func (s *Session) Tracks() <-chan domain.Track { return s.tracks }

// Publish adds a local track and renegotiates.
func (s *Session) Publish(ctx context.Context, track domain.LocalTrack) error {
	lt, ok := track.(interface{ TrackLocal() pion.TrackLocal })
	if !ok {
		return fmt.Errorf("track %s cannot be sent over WebRTC", track.ID())
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	sender, err := s.pc.AddTrack(lt.TrackLocal())
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	// Read incoming RTCP so interceptors (NACK, PLI) see it.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	if err := s.negotiate(ctx); err != nil {
		return fmt.Errorf("renegotiate: %w", err)
	}
	s.log.Info().Str("track", track.ID()).Msg("track published")
	return nil
}

// negotiate runs one offer/answer round initiated by this side.
func (s *Session) negotiate(ctx context.Context) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	s.signal.SendOffer(offer.SDP)

	select {
	case answer := <-s.answers:
		if err := s.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		s.remoteOnce.Do(func() { close(s.remoteDescSet) })
		return nil
	case <-s.closed:
		return ErrSessionClosed
	case <-s.signal.Done():
		return errors.New("signaling closed while negotiating")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) watch() {
	select {
	case <-s.closed:
		return
	case <-s.signal.Done():
		s.log.Warn().Msg("signaling lost")
	case <-s.failed:
		s.log.Warn().Msg("peer connection lost")
	}
	s.Close()
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close leaves the room and releases the peer connection. Safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.signal != nil {
			s.signal.SendLeave()
			s.signal.Close()
		}
		if s.pc != nil {
			err = s.pc.Close()
		}
		s.tracksMu.Lock()
		s.tracksClosed = true
		close(s.tracks)
		s.tracksMu.Unlock()
		s.log.Info().Msg("session closed")
	})
	return err
}

// OnJoined implements domain.SignalHandler.
func (s *Session) OnJoined(res domain.JoinResult) {
	select {
	case s.joined <- res:
	default:
	}
}

// OnJoinFailed implements domain.SignalHandler.
func (s *Session) OnJoinFailed(code int, msg string) {
	if msg == "" {
		msg = "join rejected"
	}
	select {
	case s.joinErr <- fmt.Errorf("%s (code %d)", msg, code):
	default:
	}
}

// OnOffer answers a server-initiated renegotiation.
func (s *Session) OnOffer(sdp domain.SDPPayload) {
	go func() {
		select {
		case <-s.pcReady:
		case <-s.closed:
			return
		}

		s.negMu.Lock()
		defer s.negMu.Unlock()

		if err := s.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp.SDP}); err != nil {
			s.log.Warn().Err(err).Msg("set remote offer")
			return
		}
		s.remoteOnce.Do(func() { close(s.remoteDescSet) })
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("create answer")
			return
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			s.log.Warn().Err(err).Msg("set local answer")
			return
		}
		s.signal.SendAnswer(answer.SDP)
	}()
}

// OnAnswer implements domain.SignalHandler.
func (s *Session) OnAnswer(sdp domain.SDPPayload) {
	select {
	case s.answers <- sdp:
	default:
		s.log.Warn().Msg("unexpected answer dropped")
	}
}

// OnRemoteICECandidate waits for the remote description to be set, then
// adds the candidate.
func (s *Session) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	go func() {
		select {
		case <-s.remoteDescSet:
		case <-s.closed:
			return
		}

		sdpMLineIndex := uint16(candidate.SDPMLineIndex)
		init := pion.ICECandidateInit{
			Candidate:     candidate.Candidate,
			SDPMid:        &candidate.SDPMid,
			SDPMLineIndex: &sdpMLineIndex,
		}
		if err := s.pc.AddICECandidate(init); err != nil {
			s.log.Warn().Err(err).Msg("add remote ICE candidate")
		}
	}()
}

// OnLeave implements domain.SignalHandler.
func (s *Session) OnLeave(reason string) {
	s.log.Info().Str("reason", reason).Msg("removed from room")
	go s.Close()
}
