// Package session drives the live session lifecycle: it negotiates a
// credential, opens the media transport as publisher or viewer, wires
// tracks to surfaces and tears everything down again.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecam/native/internal/binder"
	"livecam/native/internal/domain"
	"livecam/native/internal/metrics"
)

// Status is the controller state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusPublishing Status = "publishing"
	StatusViewing    Status = "viewing"
)

// ErrNotIdle rejects a connect while another session is active.
var ErrNotIdle = errors.New("session already active")

// Default capture resolution.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Options configures what a controller connects to.
type Options struct {
	Room     string
	Width    int
	Height   int
	DeviceID string
}

// ConnectOptions override Options for a single connect.
type ConnectOptions struct {
	DeviceID string
}

// DeviceRefresher re-reads the camera list.
type DeviceRefresher interface {
	Refresh(ctx context.Context) []domain.DeviceDescriptor
}

// TokenSource yields the current auth token, empty when logged out.
type TokenSource interface {
	Token() string
}

// Snapshot is the externally visible controller state.
type Snapshot struct {
	Status   Status
	Role     domain.Role
	Identity string
	Err      error
}

// StatusHandler observes every state transition.
type StatusHandler func(Snapshot)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Tokens    domain.TokenAcquirer
	Transport domain.Transport
	Capturer  domain.Capturer
	Devices   DeviceRefresher
	Binder    *binder.Binder
	// Local shows the publisher's own camera; Remote shows incoming video.
	// Either may be nil.
	Local  binder.Surface
	Remote binder.Surface
	Auth   TokenSource

	Metrics  *metrics.Metrics
	OnStatus StatusHandler
	Log      zerolog.Logger
}

// attempt is one connect and, when it succeeds, the session it opened.
type attempt struct {
	role     domain.Role
	identity string
	cancel   context.CancelFunc
	done     chan struct{} // connect returned

	handle    domain.TransportSession
	local     domain.LocalTrack
	watchDone chan struct{}

	// guarded by Controller.mu
	closing  bool
	lost     bool
	released chan struct{}
}

// Controller runs at most one live session at a time.
type Controller struct {
	opts Options
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	mu     sync.Mutex
	status Status
	role   domain.Role
	ident  string
	err    error
	cur    *attempt
}

// New creates an idle Controller.
func New(opts Options, deps Deps) *Controller {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	if deps.Binder == nil {
		deps.Binder = binder.New(deps.Log)
	}
	return &Controller{
		opts:   opts,
		deps:   deps,
		log:    deps.Log.With().Str("module", "session").Logger(),
		now:    time.Now,
		status: StatusIdle,
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Status: c.status, Role: c.role, Identity: c.ident, Err: c.err}
}

func (c *Controller) notify(s Snapshot) {
	c.deps.Metrics.SetStatus(string(s.Status))
	c.deps.Metrics.SetTracksBound(c.deps.Binder.Len())
	ev := c.log.Info().Str("status", string(s.Status)).Str("role", string(s.Role)).Str("identity", s.Identity)
	if s.Err != nil {
		ev = ev.AnErr("session_error", s.Err)
	}
	ev.Msg("status changed")
	if c.deps.OnStatus != nil {
		c.deps.OnStatus(s)
	}
}

// Connect opens a session in role. It returns once the session is
// publishing or viewing, or has failed back to idle. A concurrent
// Disconnect cancels it.
func (c *Controller) Connect(ctx context.Context, role domain.Role, co ConnectOptions) error {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	cctx, cancel := context.WithCancel(ctx)
	a := &attempt{
		role:     role,
		identity: domain.NewIdentity(role),
		cancel:   cancel,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	c.cur = a
	c.status, c.role, c.ident, c.err = StatusConnecting, role, a.identity, nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	defer close(a.done)
	defer cancel()

	c.deps.Metrics.ConnectAttempt(string(role))
	c.notify(snap)

	if err := c.connect(cctx, a, co); err != nil {
		return c.fail(a, err)
	}

	c.mu.Lock()
	if cctx.Err() != nil {
		c.mu.Unlock()
		return c.fail(a, interrupted(cctx, domain.ErrTransportConnect))
	}
	c.status = StatusViewing
	if role.Publishes() {
		c.status = StatusPublishing
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	if c.deps.Devices != nil {
		c.deps.Devices.Refresh(ctx)
	}
	return nil
}

func (c *Controller) connect(ctx context.Context, a *attempt, co ConnectOptions) error {
	var authToken string
	if c.deps.Auth != nil {
		authToken = c.deps.Auth.Token()
	}

	cred, err := c.deps.Tokens.AcquireToken(ctx, domain.TokenRequest{
		Room:     c.opts.Room,
		Identity: a.identity,
		Publish:  a.role.Publishes(),
	}, authToken)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, domain.ErrTokenRequest)
		}
		if domain.KindOf(err) == nil {
			err = domain.NewError(domain.ErrTokenRequest, err.Error(), err)
		}
		return err
	}
	if cred.Expired(c.now()) {
		return domain.NewError(domain.ErrTokenRequest, "credential already expired", nil)
	}
	if ctx.Err() != nil {
		return interrupted(ctx, domain.ErrTokenRequest)
	}

	handle, err := c.deps.Transport.Open(ctx, cred, domain.OpenOptions{AutoSubscribe: a.role == domain.RoleViewer})
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, domain.ErrTransportConnect)
		}
		return domain.NewError(domain.ErrTransportConnect, err.Error(), err)
	}
	a.handle = handle
	a.watchDone = make(chan struct{})
	go c.watchTracks(a)

	if !a.role.Publishes() {
		return nil
	}

	dev := co.DeviceID
	if dev == "" {
		dev = c.opts.DeviceID
	}
	local, err := c.deps.Capturer.Capture(ctx, domain.CaptureConstraints{
		DeviceID: dev,
		Width:    c.opts.Width,
		Height:   c.opts.Height,
	})
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, domain.ErrCapture)
		}
		cerr := captureError(err)
		if cerr.Kind == domain.ErrDeviceBusy || cerr.Kind == domain.ErrConstraint {
			if c.deps.Devices != nil {
				c.deps.Devices.Refresh(context.WithoutCancel(ctx))
			}
		}
		return cerr
	}
	a.local = local

	if err := handle.Publish(ctx, local); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx, domain.ErrTransportConnect)
		}
		return domain.NewError(domain.ErrTransportConnect, err.Error(), err)
	}
	if c.deps.Local != nil {
		c.deps.Binder.Bind(local, c.deps.Local)
	}
	return nil
}

// interrupted reports why ctx ended during the step of the given kind.
// Cancellation stays raw; a deadline is a failure of that step.
func interrupted(ctx context.Context, kind error) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(kind, "timed out", err)
	}
	return err
}

// captureError attaches recovery guidance to a capture failure.
func captureError(err error) *domain.Error {
	var de *domain.Error
	if !errors.As(err, &de) {
		return domain.NewError(domain.ErrCapture, err.Error(), err)
	}
	out := *de
	switch de.Kind {
	case domain.ErrDeviceBusy:
		out.Guidance = domain.GuidanceDeviceBusy
	case domain.ErrConstraint:
		out.Guidance = domain.GuidanceConstraint
	default:
		out.Kind = domain.ErrCapture
	}
	return &out
}

// watchTracks binds incoming video to the remote surface until the
// session's track stream ends.
func (c *Controller) watchTracks(a *attempt) {
	for track := range a.handle.Tracks() {
		if track.Kind() != domain.KindVideo || c.deps.Remote == nil {
			c.log.Debug().Str("track", track.ID()).Str("kind", string(track.Kind())).Msg("ignoring track")
			continue
		}
		c.deps.Binder.Bind(track, c.deps.Remote)
		c.deps.Metrics.SetTracksBound(c.deps.Binder.Len())
	}
	close(a.watchDone)
	c.remoteEnded(a)
}

// remoteEnded handles a session that ended without Disconnect.
func (c *Controller) remoteEnded(a *attempt) {
	c.mu.Lock()
	if c.cur != a || a.closing {
		c.mu.Unlock()
		return
	}
	a.lost = true
	if c.status == StatusConnecting {
		// connect notices through its context and reports the loss
		a.cancel()
		c.mu.Unlock()
		return
	}
	a.closing = true
	c.mu.Unlock()

	c.log.Warn().Str("identity", a.identity).Msg("connection lost")
	c.release(a)

	err := domain.NewError(domain.ErrTransportConnect, "connection lost", nil)
	c.mu.Lock()
	if c.cur != a {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	c.status, c.err = StatusIdle, err
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.deps.Metrics.ConnectFailure(domain.KindName(err))
	c.notify(snap)
}

// fail releases whatever a acquired and returns to idle carrying err.
func (c *Controller) fail(a *attempt, err error) error {
	c.mu.Lock()
	a.closing = true
	if a.lost {
		err = domain.NewError(domain.ErrTransportConnect, "connection lost", err)
	}
	c.mu.Unlock()

	c.release(a)

	c.mu.Lock()
	if c.cur == a {
		c.cur = nil
		c.status, c.err = StatusIdle, err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !errors.Is(err, context.Canceled) {
		c.deps.Metrics.ConnectFailure(domain.KindName(err))
		c.log.Warn().Err(err).Str("role", string(a.role)).Msg("connect failed")
	}
	c.notify(snap)
	return err
}

// release closes the transport, joins the track watcher, stops capture
// and unbinds every surface, in that order.
func (c *Controller) release(a *attempt) {
	if a.handle != nil {
		if err := a.handle.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
	}
	if a.watchDone != nil {
		<-a.watchDone
	}
	if a.local != nil {
		if err := a.local.Stop(); err != nil {
			c.log.Debug().Err(err).Msg("stop capture")
		}
	}
	c.deps.Binder.UnbindAll()
	close(a.released)
}

// Disconnect ends the current session, or cancels the connect in flight,
// and returns to idle. It is safe to call in any state.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	a := c.cur
	if a == nil {
		changed := c.err != nil
		c.err = nil
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.deps.Binder.UnbindAll()
		if changed {
			c.notify(snap)
		}
		return nil
	}

	switch {
	case c.status == StatusConnecting:
		a.cancel()
		c.mu.Unlock()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case a.closing:
		c.mu.Unlock()
		select {
		case <-a.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		a.closing = true
		c.mu.Unlock()
		c.release(a)
	}

	c.mu.Lock()
	if c.cur == a {
		c.cur = nil
	}
	if c.cur == nil {
		c.status, c.err = StatusIdle, nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Str("identity", a.identity).Msg("disconnected")
	c.notify(snap)
	return nil
}
