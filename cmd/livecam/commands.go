package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"livecam/native/internal/api"
	"livecam/native/internal/auth"
	"livecam/native/internal/binder"
	"livecam/native/internal/config"
	"livecam/native/internal/device"
	"livecam/native/internal/domain"
	"livecam/native/internal/logging"
	"livecam/native/internal/metrics"
	"livecam/native/internal/session"
	"livecam/native/internal/webrtc"
)

// env holds what every command shares.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	http    *api.Client
	auth    *auth.Session
	metrics *metrics.Metrics
	server  *metrics.Server
}

func newEnv(cfg *config.Config) (*env, error) {
	sess, err := auth.LoadSession(auth.NewStore(cfg.TokenStore))
	if err != nil {
		return nil, err
	}
	e := &env{
		cfg:  cfg,
		log:  logging.L(),
		http: api.NewClient(cfg.HTTPTimeout),
		auth: sess,
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector())
		e.metrics = metrics.New(reg)
		e.server = metrics.NewServer(cfg.MetricsAddr, reg, e.log)
		go e.server.Run()
	}
	return e, nil
}

func (e *env) close() {
	if e.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.server.Shutdown(ctx)
	e.server = nil
}

func (e *env) authService() (*auth.Service, error) {
	if err := e.cfg.RequireAPI(); err != nil {
		return nil, err
	}
	return auth.NewService(api.NewAuthClient(e.http, e.cfg.APIURL, e.cfg.IdentityField), e.auth), nil
}

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: livecam %s [options]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func credentialFlags(e *env, name string, args []string) (*auth.Form, error) {
	fs := newFlags(name)
	id := fs.String(e.cfg.IdentityField, "", "account "+e.cfg.IdentityField)
	password := fs.String("password", os.Getenv("LIVECAM_PASSWORD"), "account password (or LIVECAM_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *id == "" || *password == "" {
		return nil, fmt.Errorf("--%s and --password are required", e.cfg.IdentityField)
	}
	return &auth.Form{Identifier: *id, Password: *password}, nil
}

func runLogin(ctx context.Context, e *env, args []string) error {
	form, err := credentialFlags(e, "login", args)
	if err != nil {
		return err
	}
	svc, err := e.authService()
	if err != nil {
		return err
	}
	return svc.Login(ctx, form)
}

func runRegister(ctx context.Context, e *env, args []string) error {
	form, err := credentialFlags(e, "register", args)
	if err != nil {
		return err
	}
	svc, err := e.authService()
	if err != nil {
		return err
	}
	return svc.Register(ctx, form)
}

func runForgot(ctx context.Context, e *env, args []string) error {
	fs := newFlags("forgot")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	svc, err := e.authService()
	if err != nil {
		return err
	}
	if err := svc.Forgot(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "If the account exists, a reset link is on its way.")
	return nil
}

func runReset(ctx context.Context, e *env, args []string) error {
	fs := newFlags("reset")
	token := fs.String("token", "", "reset token from the mail")
	password := fs.String("password", os.Getenv("LIVECAM_PASSWORD"), "new password (or LIVECAM_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" || *password == "" {
		return errors.New("--token and --password are required")
	}
	svc, err := e.authService()
	if err != nil {
		return err
	}
	return svc.Reset(ctx, *token, *password)
}

func runLogout(ctx context.Context, e *env, args []string) error {
	if err := newFlags("logout").Parse(args); err != nil {
		return err
	}
	return auth.NewService(nil, e.auth).Logout(ctx)
}

func runEvents(ctx context.Context, e *env, args []string) error {
	if err := newFlags("events").Parse(args); err != nil {
		return err
	}
	if err := e.cfg.RequireAPI(); err != nil {
		return err
	}
	events, err := api.NewEventsClient(e.http, e.cfg.APIURL).List(ctx, e.auth.Token())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tCREATED\tURL")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.ID, ev.EventType, ev.CreatedAt.Format(time.RFC3339), ev.URL)
	}
	return w.Flush()
}

func (e *env) inventory() *device.Inventory {
	return device.NewInventory(device.NewSysfsEnumerator(e.cfg.SysfsRoot), e.log)
}

func runDevices(ctx context.Context, e *env, args []string) error {
	if err := newFlags("devices").Parse(args); err != nil {
		return err
	}
	devices := e.inventory().Refresh(ctx)
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "no camera found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Label)
	}
	return w.Flush()
}

func runPublish(ctx context.Context, e *env, args []string) error {
	fs := newFlags("publish")
	dev := fs.String("device", e.cfg.DeviceID, "camera device (default: first camera)")
	preview := fs.String("preview", "", "write the local preview (H264) to this file, - for stdout")
	watch := fs.String("remote", "", "write incoming video (H264) to this file, - for stdout")
	addLiveFlags(fs, e.cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return e.live(ctx, domain.RolePublisher, *dev, *preview, *watch)
}

func runView(ctx context.Context, e *env, args []string) error {
	fs := newFlags("view")
	out := fs.StringP("output", "o", "-", "write incoming video (H264) to this file, - for stdout")
	addLiveFlags(fs, e.cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return e.live(ctx, domain.RoleViewer, "", "", *out)
}

func addLiveFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Room, "room", cfg.Room, "room to join")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "capture width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "capture height")
}

// openSurface returns a surface writing to path; "" discards, "-" is stdout.
func openSurface(name, path string) (binder.Surface, io.Closer, error) {
	switch path {
	case "":
		return nil, nil, nil
	case "-":
		return binder.NewWriterSurface(name, os.Stdout), nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s surface: %w", name, err)
	}
	return binder.NewWriterSurface(name, f), f, nil
}

func (e *env) live(ctx context.Context, role domain.Role, dev, localPath, remotePath string) error {
	if err := e.cfg.RequireLive(); err != nil {
		return err
	}
	log := logging.Module("live")

	local, lc, err := openSurface("local", localPath)
	if err != nil {
		return err
	}
	if lc != nil {
		defer lc.Close()
	}
	remote, rc, err := openSurface("remote", remotePath)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}

	ended := make(chan session.Snapshot, 1)
	ctrl := session.New(session.Options{
		Room:     e.cfg.Room,
		Width:    e.cfg.Width,
		Height:   e.cfg.Height,
		DeviceID: dev,
	}, session.Deps{
		Tokens: api.NewTokenClient(e.http, e.cfg.TokenEndpoint),
		Transport: webrtc.NewTransport(webrtc.Options{
			MediaURL:     e.cfg.MediaURL,
			PingInterval: e.cfg.PingInterval,
		}, e.log),
		Capturer: device.NewFFmpegCapturer(e.cfg.FFmpegPath, e.cfg.FrameRate, e.cfg.VideoBitrate, e.log),
		Devices:  e.inventory(),
		Binder:   binder.New(e.log),
		Local:    local,
		Remote:   remote,
		Auth:     e.auth,
		Metrics:  e.metrics,
		OnStatus: func(s session.Snapshot) {
			if s.Status == session.StatusIdle && s.Err != nil {
				select {
				case ended <- s:
				default:
				}
			}
		},
		Log: e.log,
	})

	connectCtx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	err = ctrl.Connect(connectCtx, role, session.ConnectOptions{})
	cancel()
	if err != nil {
		return err
	}
	log.Info().Str("room", e.cfg.Room).Str("identity", ctrl.Snapshot().Identity).Msg("live, press Ctrl-C to stop")

	var lost error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case s := <-ended:
		lost = s.Err
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	if err := ctrl.Disconnect(dctx); err != nil {
		log.Warn().Err(err).Msg("disconnect")
	}
	return lost
}
