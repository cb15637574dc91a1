package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestOutput_DropsWithoutAttachment(t *testing.T) {
	o := NewOutput()
	if n, err := o.Write([]byte("x")); n != 1 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
}

func TestOutput_AttachUntilCancel(t *testing.T) {
	o := NewOutput()
	var buf syncBuffer
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Attach(ctx, &buf) }()

	deadline := time.Now().Add(time.Second)
	for len(buf.Bytes()) == 0 && time.Now().Before(deadline) {
		_, _ = o.Write([]byte("a"))
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	before := len(buf.Bytes())
	_, _ = o.Write([]byte("late"))
	if len(buf.Bytes()) != before {
		t.Error("write reached writer after Attach returned")
	}
}

func TestOutput_SecondAttachTakesOver(t *testing.T) {
	o := NewOutput()
	var first, second syncBuffer

	firstDone := make(chan error, 1)
	go func() { firstDone <- o.Attach(context.Background(), &first) }()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Attach(ctx, &second) }()

	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("replaced attachment should return nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first attachment not released")
	}
}

func TestOutput_FailingWriterDetached(t *testing.T) {
	o := NewOutput()
	done := make(chan error, 1)
	go func() { done <- o.Attach(context.Background(), failWriter{}) }()

	deadline := time.After(time.Second)
	for {
		_, _ = o.Write([]byte("x"))
		select {
		case err := <-done:
			if err == nil || err.Error() != "broken pipe" {
				t.Fatalf("expected write error, got %v", err)
			}
			return
		case <-deadline:
			t.Fatal("failing writer never detached")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestOutput_EndReleasesAttach(t *testing.T) {
	o := NewOutput()
	done := make(chan error, 1)
	go func() { done <- o.Attach(context.Background(), io.Discard) }()
	time.Sleep(5 * time.Millisecond)

	o.End(io.EOF)
	if err := <-done; err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if err := o.Attach(context.Background(), io.Discard); err != io.EOF {
		t.Fatalf("attach after end should return io.EOF, got %v", err)
	}
}

var (
	sps = []byte{0x67, 0x42, 0xe0, 0x1f}
	pps = []byte{0x68, 0xce, 0x3c, 0x80}
	idr = []byte{0x65, 0x88, 0x84, 0x00}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, StartCode...)
		out = append(out, n...)
	}
	return out
}

func TestLocalTrack_ReadyAndPreview(t *testing.T) {
	pr, pw := io.Pipe()
	stopped := false
	track, err := NewLocalTrack("cam0", pr, 30, func() error { stopped = true; return nil }, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalTrack: %v", err)
	}

	var preview syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = track.Render(ctx, &preview) }()

	go func() {
		_, _ = pw.Write(annexB(sps, pps))
		for i := 0; i < 200 && len(preview.Bytes()) == 0; i++ {
			_, _ = pw.Write(annexB(idr))
			time.Sleep(time.Millisecond)
		}
	}()

	readyCtx, readyCancel := context.WithTimeout(context.Background(), time.Second)
	defer readyCancel()
	if err := track.Ready(readyCtx); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(preview.Bytes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got := preview.Bytes()
	if len(got) < len(StartCode) || !bytes.Equal(got[:len(StartCode)], StartCode) {
		t.Fatalf("preview should carry Annex-B NAL units, got %x", got)
	}

	if err := track.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Error("stop func not called")
	}
	if err := track.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestLocalTrack_ReadyFailsOnEmptyStream(t *testing.T) {
	track, err := NewLocalTrack("cam0", io.NopCloser(bytes.NewReader(nil)), 30, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalTrack: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := track.Ready(ctx); err == nil {
		t.Fatal("expected Ready to fail for an empty stream")
	}
}
