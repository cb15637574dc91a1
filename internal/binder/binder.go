package binder

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
)

// Surface is where a track's output is presented.
type Surface interface {
	io.Writer
	Name() string
	// Clear drops whatever the surface is currently showing.
	Clear()
}

type binding struct {
	track  domain.Track
	cancel context.CancelFunc
	done   chan struct{}
}

// Binder attaches tracks to surfaces. Each surface shows at most one track.
type Binder struct {
	log zerolog.Logger

	mu       sync.Mutex
	bindings map[Surface]*binding
}

// New creates an empty Binder.
func New(log zerolog.Logger) *Binder {
	return &Binder{
		log:      log.With().Str("module", "binder").Logger(),
		bindings: make(map[Surface]*binding),
	}
}

// Bind routes track's output to surface, replacing any track already bound
// there.
func (b *Binder) Bind(track domain.Track, surface Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.bindings[surface]; ok {
		b.stop(prev)
		b.log.Debug().Str("surface", surface.Name()).Str("track", prev.track.ID()).Msg("replacing binding")
	}

	ctx, cancel := context.WithCancel(context.Background())
	bd := &binding{track: track, cancel: cancel, done: make(chan struct{})}
	b.bindings[surface] = bd

	go func() {
		defer close(bd.done)
		err := track.Render(ctx, surface)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Warn().Err(err).Str("surface", surface.Name()).Str("track", track.ID()).Msg("track render stopped")
		}
	}()
	b.log.Info().Str("surface", surface.Name()).Str("track", track.ID()).Msg("track bound")
}

// Unbind detaches whatever is bound to surface and clears it. It returns
// once the track no longer writes to the surface.
func (b *Binder) Unbind(surface Surface) {
	b.mu.Lock()
	bd, ok := b.bindings[surface]
	delete(b.bindings, surface)
	b.mu.Unlock()

	if ok {
		b.stop(bd)
		b.log.Info().Str("surface", surface.Name()).Str("track", bd.track.ID()).Msg("track unbound")
	}
	surface.Clear()
}

// UnbindAll detaches every binding.
func (b *Binder) UnbindAll() {
	b.mu.Lock()
	surfaces := make([]Surface, 0, len(b.bindings))
	for s := range b.bindings {
		surfaces = append(surfaces, s)
	}
	b.mu.Unlock()

	for _, s := range surfaces {
		b.Unbind(s)
	}
}

// Bound returns the track bound to surface, if any.
func (b *Binder) Bound(surface Surface) (domain.Track, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bd, ok := b.bindings[surface]
	if !ok {
		return nil, false
	}
	return bd.track, true
}

// Len returns the number of live bindings.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

func (b *Binder) stop(bd *binding) {
	bd.cancel()
	<-bd.done
}
