package binder

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
)

// fakeTrack writes its id to the surface until cancelled.
type fakeTrack struct {
	id      string
	running atomic.Int32
}

func (f *fakeTrack) ID() string              { return f.id }
func (f *fakeTrack) Kind() domain.TrackKind { return domain.KindVideo }
func (f *fakeTrack) Render(ctx context.Context, w io.Writer) error {
	f.running.Add(1)
	defer f.running.Add(-1)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Write([]byte(f.id)); err != nil {
				return err
			}
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBind_WritesToSurface(t *testing.T) {
	b := New(zerolog.Nop())
	s := NewWriterSurface("remote", nil)
	tr := &fakeTrack{id: "t1"}

	b.Bind(tr, s)
	waitFor(t, func() bool { return s.Written() > 0 })

	got, ok := b.Bound(s)
	if !ok || got != tr {
		t.Fatalf("expected t1 bound, got %v %v", got, ok)
	}
	b.UnbindAll()
}

func TestBind_ReplacesPriorTrack(t *testing.T) {
	b := New(zerolog.Nop())
	s := NewWriterSurface("remote", nil)
	first := &fakeTrack{id: "first"}
	second := &fakeTrack{id: "second"}

	b.Bind(first, s)
	waitFor(t, func() bool { return first.running.Load() == 1 })
	b.Bind(second, s)

	if first.running.Load() != 0 {
		t.Error("first track still rendering after replacement")
	}
	got, _ := b.Bound(s)
	if got != second {
		t.Errorf("expected second bound, got %v", got.ID())
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 binding, got %d", b.Len())
	}
	b.UnbindAll()
}

func TestUnbind_StopsAndClears(t *testing.T) {
	b := New(zerolog.Nop())
	s := NewWriterSurface("local", nil)
	tr := &fakeTrack{id: "t1"}

	b.Bind(tr, s)
	waitFor(t, func() bool { return s.Written() > 0 })
	b.Unbind(s)

	if tr.running.Load() != 0 {
		t.Error("track still rendering after Unbind")
	}
	if s.Written() != 0 {
		t.Errorf("expected surface cleared, written=%d", s.Written())
	}
	time.Sleep(5 * time.Millisecond)
	if s.Written() != 0 {
		t.Error("surface written after Unbind returned")
	}
	if _, ok := b.Bound(s); ok {
		t.Error("surface still reported bound")
	}
}

func TestUnbind_UnboundSurfaceIsNoop(t *testing.T) {
	b := New(zerolog.Nop())
	s := NewWriterSurface("local", nil)
	b.Unbind(s)
	b.UnbindAll()
	if b.Len() != 0 {
		t.Errorf("expected no bindings, got %d", b.Len())
	}
}

func TestUnbindAll_LeavesNothingAttached(t *testing.T) {
	b := New(zerolog.Nop())
	local := NewWriterSurface("local", nil)
	remote := NewWriterSurface("remote", nil)
	t1, t2 := &fakeTrack{id: "a"}, &fakeTrack{id: "b"}

	b.Bind(t1, local)
	b.Bind(t2, remote)
	b.UnbindAll()

	if b.Len() != 0 {
		t.Fatalf("expected 0 bindings, got %d", b.Len())
	}
	if t1.running.Load() != 0 || t2.running.Load() != 0 {
		t.Error("tracks still rendering after UnbindAll")
	}
}
