package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
	"livecam/native/internal/media"
)

// DefaultDevice is captured when no device is selected.
const DefaultDevice = "/dev/video0"

// stderrLimit bounds how much ffmpeg diagnostics are kept.
const stderrLimit = 8 << 10

// FFmpegCapturer captures a V4L2 camera with ffmpeg, encoding to H264
// baseline so the stream can be published without transcoding.
type FFmpegCapturer struct {
	Path      string
	FrameRate int
	Bitrate   string
	log       zerolog.Logger
}

// NewFFmpegCapturer creates a capturer running the ffmpeg binary at path.
func NewFFmpegCapturer(path string, frameRate int, bitrate string, log zerolog.Logger) *FFmpegCapturer {
	if frameRate <= 0 {
		frameRate = 30
	}
	if bitrate == "" {
		bitrate = "2M"
	}
	return &FFmpegCapturer{
		Path:      path,
		FrameRate: frameRate,
		Bitrate:   bitrate,
		log:       log.With().Str("module", "capture").Logger(),
	}
}

func (f *FFmpegCapturer) args(dev string, c domain.CaptureConstraints) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2",
		"-framerate", strconv.Itoa(f.FrameRate)}
	if c.Width > 0 && c.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.Width, c.Height))
	}
	return append(args,
		"-i", dev,
		"-an",
		"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p",
		"-preset", "ultrafast", "-tune", "zerolatency",
		"-b:v", f.Bitrate,
		"-x264-params", fmt.Sprintf("keyint=%d:repeat-headers=1", f.FrameRate*2),
		"-f", "h264", "pipe:1",
	)
}

// Capture implements domain.Capturer. It returns once the first frame has
// been produced, so a device that opens but never streams is reported as
// a failure rather than a black preview.
func (f *FFmpegCapturer) Capture(ctx context.Context, c domain.CaptureConstraints) (domain.LocalTrack, error) {
	if c.Audio {
		return nil, domain.NewError(domain.ErrConstraint, "audio capture is not supported", nil)
	}
	dev := c.DeviceID
	if dev == "" {
		dev = DefaultDevice
	}
	log := f.log.With().Str("device", dev).Logger()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, domain.NewError(domain.ErrCapture, err.Error(), err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd := exec.Command(f.Path, f.args(dev, c)...)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, domain.NewError(domain.ErrCapture, fmt.Sprintf("start %s: %v", f.Path, err), err)
	}
	pw.Close()
	log.Info().Int("pid", cmd.Process.Pid).Int("width", c.Width).Int("height", c.Height).Msg("capture started")

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()
	stop := func() error {
		select {
		case <-exited:
		default:
			_ = cmd.Process.Kill()
			<-exited
		}
		return nil
	}

	track, err := media.NewLocalTrack("camera-"+filepath.Base(dev), pr, f.FrameRate, stop, log)
	if err != nil {
		pr.Close()
		stop()
		return nil, domain.NewError(domain.ErrCapture, err.Error(), err)
	}

	if err := track.Ready(ctx); err != nil {
		if ctx.Err() != nil {
			track.Stop()
			return nil, ctx.Err()
		}
		<-exited
		track.Stop()
		cause := waitErr
		if cause == nil {
			cause = err
		}
		classified := Classify(stderr.String(), cause)
		log.Warn().Err(classified).Msg("capture failed")
		return nil, classified
	}
	return track, nil
}

// Classify maps ffmpeg diagnostics to a capture error kind.
func Classify(stderr string, cause error) *domain.Error {
	msg := lastLine(stderr)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "device or resource busy"):
		return domain.NewError(domain.ErrDeviceBusy, msg, cause)
	case strings.Contains(lower, "invalid argument"),
		strings.Contains(lower, "not supported"),
		strings.Contains(lower, "could not set video options"):
		return domain.NewError(domain.ErrConstraint, msg, cause)
	}
	return domain.NewError(domain.ErrCapture, msg, cause)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
