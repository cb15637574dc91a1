package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"livecam/native/internal/config"
	"livecam/native/internal/logging"
)

const helpText = `livecam - publish or watch a live camera over WebRTC

Usage:
  livecam [global options] <command> [options]

Commands:
  login      Log in and store the auth token
  register   Create an account and store the auth token
  forgot     Request a password reset mail
  reset      Set a new password with a reset token
  logout     Forget the stored auth token
  events     List recorded clips
  devices    List camera inputs
  publish    Publish a camera to the room
  view       Watch the room; H264 is written to stdout

Environment Variables:
  LIVECAM_TOKEN_ENDPOINT  Token minting endpoint (required for publish/view)
  LIVECAM_MEDIA_URL       Media server URL (required for publish/view)
  LIVECAM_API_URL         Auth/events base URL, used only without a token endpoint
  LIVECAM_ROOM            Room name (default: playground-01)
  LIVECAM_CONFIG          Optional YAML config file

Examples:
  # Live playback
  livecam view | ffplay -f h264 -

  # Record to MP4
  livecam view | ffmpeg -f h264 -i - -c copy output.mp4

  # Publish the second camera and keep a local preview
  livecam publish --device /dev/video2 --preview preview.h264

Global Options:
`

type command func(ctx context.Context, env *env, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"register": runRegister,
	"forgot":   runForgot,
	"reset":    runReset,
	"logout":   runLogout,
	"events":   runEvents,
	"devices":  runDevices,
	"publish":  runPublish,
	"view":     runView,
}

func main() {
	flags := pflag.NewFlagSet("livecam", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	logLevel := flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	help := flags.BoolP("help", "h", false, "show this help message")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, helpText)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if *help || flags.NArg() == 0 {
		flags.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecam: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	logging.Init(cfg.Log)
	log := logging.Module("main")

	name := flags.Arg(0)
	run, ok := commands[name]
	if !ok {
		log.Error().Str("command", name).Msg("unknown command")
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logging.L())

	e, err := newEnv(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer e.close()

	if err := run(ctx, e, flags.Args()[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		e.close()
		log.Fatal().Err(err).Str("command", name).Msg("failed")
	}
}
