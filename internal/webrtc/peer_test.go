package webrtc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
	"livecam/native/internal/signal"
)

// fakeSignaler scripts the server side of signaling without a socket.
type fakeSignaler struct {
	mu      sync.Mutex
	handler domain.SignalHandler
	onJoin  func(h domain.SignalHandler)
	joins   []domain.JoinRequest
	leaves  int
	closed  bool
	done    chan struct{}
	once    sync.Once
}

func (f *fakeSignaler) Connect(ctx context.Context) error { return nil }

func (f *fakeSignaler) SendJoin(req domain.JoinRequest) {
	f.mu.Lock()
	f.joins = append(f.joins, req)
	f.mu.Unlock()
	if f.onJoin != nil {
		go f.onJoin(f.handler)
	}
}

func (f *fakeSignaler) SendOffer(sdp string)                           {}
func (f *fakeSignaler) SendAnswer(sdp string)                          {}
func (f *fakeSignaler) SendICECandidate(mid string, idx int, c string) {}

func (f *fakeSignaler) SendLeave() {
	f.mu.Lock()
	f.leaves++
	f.mu.Unlock()
}

func (f *fakeSignaler) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeSignaler) Done() <-chan struct{} { return f.done }

func newFakeTransport(f *fakeSignaler) *Transport {
	tr := NewTransport(Options{}, zerolog.Nop())
	tr.newSignaler = func(cred *domain.Credential, h domain.SignalHandler) domain.Signaler {
		f.handler = h
		return f
	}
	return tr
}

func TestTransport_OpenJoinRejected(t *testing.T) {
	f := &fakeSignaler{
		done:   make(chan struct{}),
		onJoin: func(h domain.SignalHandler) { h.OnJoinFailed(403, "room is full") },
	}
	tr := newFakeTransport(f)

	_, err := tr.Open(context.Background(), &domain.Credential{Token: "t", Room: "r", Identity: "sub-1"}, domain.OpenOptions{AutoSubscribe: true})
	if err == nil || !strings.Contains(err.Error(), "room is full") {
		t.Fatalf("expected join rejection, got %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.joins) != 1 || !f.joins[0].AutoSubscribe || f.joins[0].Publish {
		t.Errorf("unexpected join %+v", f.joins)
	}
	if !f.closed {
		t.Error("expected signaling to be closed after a failed join")
	}
}

func TestTransport_OpenSignalingLost(t *testing.T) {
	f := &fakeSignaler{done: make(chan struct{})}
	f.onJoin = func(domain.SignalHandler) { f.Close() }
	tr := newFakeTransport(f)

	if _, err := tr.Open(context.Background(), &domain.Credential{Token: "t"}, domain.OpenOptions{}); err == nil {
		t.Fatal("expected error when signaling closes before join")
	}
}

func TestTransport_OpenCancelled(t *testing.T) {
	f := &fakeSignaler{done: make(chan struct{})}
	tr := newFakeTransport(f)

	ctx, cancel := context.WithCancel(context.Background())
	f.onJoin = func(domain.SignalHandler) { cancel() }

	_, err := tr.Open(ctx, &domain.Credential{Token: "t"}, domain.OpenOptions{})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// answerServer is a minimal media server: it accepts one participant,
// answers every offer with a pion peer and trickles candidates both ways.
type answerServer struct {
	t      *testing.T
	mu     sync.Mutex
	offers int
	left   chan struct{}
}

func (s *answerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(msg signal.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(msg)
	}

	se := pion.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4})
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		s.t.Errorf("codecs: %v", err)
		return
	}
	api := pion.NewAPI(pion.WithMediaEngine(m), pion.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(pion.Configuration{})
	if err != nil {
		s.t.Errorf("peer: %v", err)
		return
	}
	defer pc.Close()

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p := &domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			p.SDPMid = *init.SDPMid
		}
		send(signal.Message{Method: signal.MethodTrickle, Candidate: p})
	})

	var pending []pion.ICECandidateInit
	remoteSet := false

	for {
		var msg signal.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Method {
		case signal.MethodJoin:
			zero := 0
			send(signal.Message{Method: signal.MethodJoinResponse, Code: &zero, ParticipantID: "p-" + msg.Identity,
				ICEServers: []domain.ICEServer{{URLs: []string{"stun:127.0.0.1:3478"}}}})
		case signal.MethodOffer:
			s.mu.Lock()
			s.offers++
			s.mu.Unlock()
			if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: msg.SDP.SDP}); err != nil {
				s.t.Errorf("set offer: %v", err)
				return
			}
			remoteSet = true
			for _, c := range pending {
				_ = pc.AddICECandidate(c)
			}
			pending = nil
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				s.t.Errorf("answer: %v", err)
				return
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				s.t.Errorf("set answer: %v", err)
				return
			}
			send(signal.Message{Method: signal.MethodAnswer, SDP: &domain.SDPPayload{Type: "answer", SDP: answer.SDP}})
		case signal.MethodTrickle:
			idx := uint16(msg.Candidate.SDPMLineIndex)
			c := pion.ICECandidateInit{Candidate: msg.Candidate.Candidate, SDPMid: &msg.Candidate.SDPMid, SDPMLineIndex: &idx}
			if remoteSet {
				_ = pc.AddICECandidate(c)
			} else {
				pending = append(pending, c)
			}
		case signal.MethodLeave:
			close(s.left)
			return
		}
	}
}

func startAnswerServer(t *testing.T) (*answerServer, string) {
	t.Helper()
	as := &answerServer{t: t, left: make(chan struct{})}
	srv := httptest.NewServer(as)
	t.Cleanup(srv.Close)
	return as, srv.URL
}

func TestTransport_ViewerSessionOverLoopback(t *testing.T) {
	as, url := startAnswerServer(t)
	tr := NewTransport(Options{MediaURL: url, IncludeLoopback: true}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sess, err := tr.Open(ctx, &domain.Credential{Token: "tok", Room: "r", Identity: "sub-1"}, domain.OpenOptions{AutoSubscribe: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	select {
	case <-as.left:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw LEAVE")
	}

	for range sess.Tracks() {
		t.Error("unexpected track")
	}
}

func TestTransport_OnLeaveEndsSession(t *testing.T) {
	_, url := startAnswerServer(t)
	tr := NewTransport(Options{MediaURL: url, IncludeLoopback: true}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ts, err := tr.Open(ctx, &domain.Credential{Token: "tok", Identity: "sub-2"}, domain.OpenOptions{AutoSubscribe: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess := ts.(*Session)
	sess.OnLeave("kicked")

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session still open after LEAVE")
	}
}

func TestSession_TrackAfterCloseIsDropped(t *testing.T) {
	s := newSession(&domain.Credential{Identity: "sub-1"}, zerolog.Nop())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 200; i++ {
		s.publishTrack(&remoteTrack{})
	}

	if _, ok := <-s.Tracks(); ok {
		t.Error("track delivered after close")
	}
}
