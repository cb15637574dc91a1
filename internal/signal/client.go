package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
)

// Signaling methods.
const (
	MethodJoin         = "JOIN"
	MethodJoinResponse = "JOIN_RESPONSE"
	MethodOffer        = "OFFER"
	MethodAnswer       = "ANSWER"
	MethodTrickle      = "TRICKLE"
	MethodLeave        = "LEAVE"
	MethodResponse     = "RESPONSE"
)

const writeWait = 5 * time.Second

// Message is the generic WebSocket message envelope.
type Message struct {
	Method        string                      `json:"method"`
	Code          *int                        `json:"code,omitempty"`
	Message       string                      `json:"message,omitempty"`
	Room          string                      `json:"room,omitempty"`
	Identity      string                      `json:"identity,omitempty"`
	ParticipantID string                      `json:"participantId,omitempty"`
	Publish       bool                        `json:"publish,omitempty"`
	AutoSubscribe bool                        `json:"autoSubscribe,omitempty"`
	ICEServers    []domain.ICEServer          `json:"iceServers,omitempty"`
	SDP           *domain.SDPPayload          `json:"sdp,omitempty"`
	Candidate     *domain.ICECandidatePayload `json:"candidate,omitempty"`
	Reason        string                      `json:"reason,omitempty"`
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	endpoint     string
	token        string
	pingInterval time.Duration
	handler      domain.SignalHandler
	log          zerolog.Logger

	conn *websocket.Conn

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client for the media server at mediaURL,
// authenticating with the credential's token.
func NewClient(mediaURL string, cred *domain.Credential, pingInterval time.Duration, handler domain.SignalHandler, log zerolog.Logger) *Client {
	return &Client{
		endpoint:     mediaURL,
		token:        cred.Token,
		pingInterval: pingInterval,
		handler:      handler,
		log:          log.With().Str("module", "signal").Str("identity", cred.Identity).Logger(),
		closed:       make(chan struct{}),
	}
}

// URL returns the websocket URL the client dials.
func (c *Client) URL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rtc"
	return u.String(), nil
}

// Connect dials the signaling WebSocket and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.URL()
	if err != nil {
		return err
	}

	c.log.Info().Str("url", u).Msg("connecting")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: %w (http %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	if c.pingInterval > 0 {
		go c.pingLoop()
	}
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.mu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			c.conn.Close()
		}
	})
}

func (c *Client) sendJSON(msg Message) {
	select {
	case <-c.closed:
		return
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal")
		return
	}
	c.log.Trace().RawJSON("msg", data).Msg(">>>")
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn().Err(err).Str("method", msg.Method).Msg("write")
	}
}

// SendJoin asks to join the room.
func (c *Client) SendJoin(req domain.JoinRequest) {
	c.sendJSON(Message{
		Method:        MethodJoin,
		Room:          req.Room,
		Identity:      req.Identity,
		Publish:       req.Publish,
		AutoSubscribe: req.AutoSubscribe,
	})
}

// SendOffer sends a local SDP offer.
func (c *Client) SendOffer(sdp string) {
	c.sendJSON(Message{Method: MethodOffer, SDP: &domain.SDPPayload{Type: "offer", SDP: sdp}})
}

// SendAnswer answers a server-initiated offer.
func (c *Client) SendAnswer(sdp string) {
	c.sendJSON(Message{Method: MethodAnswer, SDP: &domain.SDPPayload{Type: "answer", SDP: sdp}})
}

// SendICECandidate trickles a local ICE candidate.
func (c *Client) SendICECandidate(sdpMid string, sdpMLineIndex int, candidate string) {
	c.sendJSON(Message{
		Method: MethodTrickle,
		Candidate: &domain.ICECandidatePayload{
			SDPMid:        sdpMid,
			SDPMLineIndex: sdpMLineIndex,
			Candidate:     candidate,
		},
	})
}

// SendLeave tells the server this participant is leaving.
func (c *Client) SendLeave() {
	c.sendJSON(Message{Method: MethodLeave})
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}

		c.log.Trace().RawJSON("msg", data).Msg("<<<")

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("unmarshal")
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Method {
	case MethodJoinResponse:
		if msg.Code != nil && *msg.Code == 0 {
			c.log.Info().Str("participant", msg.ParticipantID).Int("ice_servers", len(msg.ICEServers)).Msg("joined")
			c.handler.OnJoined(domain.JoinResult{ParticipantID: msg.ParticipantID, ICEServers: msg.ICEServers})
		} else {
			code := -1
			if msg.Code != nil {
				code = *msg.Code
			}
			c.log.Warn().Int("code", code).Str("msg", msg.Message).Msg("join rejected")
			c.handler.OnJoinFailed(code, msg.Message)
		}

	case MethodOffer:
		if msg.SDP == nil {
			c.log.Warn().Msg("offer without sdp")
			return
		}
		c.handler.OnOffer(*msg.SDP)

	case MethodAnswer:
		if msg.SDP == nil {
			c.log.Warn().Msg("answer without sdp")
			return
		}
		c.handler.OnAnswer(*msg.SDP)

	case MethodTrickle:
		if msg.Candidate == nil {
			return
		}
		c.handler.OnRemoteICECandidate(*msg.Candidate)

	case MethodLeave:
		c.log.Info().Str("reason", msg.Reason).Msg("server asked to leave")
		c.handler.OnLeave(msg.Reason)

	case MethodResponse:
		// no-op

	default:
		c.log.Debug().Str("method", msg.Method).Msg("unhandled method")
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("ping")
				}
				return
			}
		}
	}
}
