package media

import (
	"context"
	"io"
	"sync"
)

type attachment struct {
	w    io.Writer
	done chan struct{}
	err  error
}

// Output routes a track's byte stream to at most one attached writer at a
// time. Writes with nothing attached are dropped.
type Output struct {
	mu     sync.Mutex
	cur    *attachment
	ended  chan struct{}
	endErr error
	once   sync.Once
}

// NewOutput creates an Output with nothing attached.
func NewOutput() *Output {
	return &Output{ended: make(chan struct{})}
}

// Attach routes output to w until ctx is done, the stream ends, a write to
// w fails or another Attach takes over. No write reaches w after Attach
// returns.
func (o *Output) Attach(ctx context.Context, w io.Writer) error {
	a := &attachment{w: w, done: make(chan struct{})}

	o.mu.Lock()
	select {
	case <-o.ended:
		o.mu.Unlock()
		return o.endErr
	default:
	}
	if o.cur != nil {
		close(o.cur.done)
	}
	o.cur = a
	o.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-o.ended:
		return o.endErr
	case <-ctx.Done():
	}

	o.mu.Lock()
	if o.cur == a {
		o.cur = nil
	}
	o.mu.Unlock()
	return ctx.Err()
}

// Write forwards p to the attached writer. A failing writer is detached so
// one broken sink cannot stall the stream.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return len(p), nil
	}
	if _, err := o.cur.w.Write(p); err != nil {
		o.cur.err = err
		close(o.cur.done)
		o.cur = nil
	}
	return len(p), nil
}

// End marks the stream finished. Attached and future Attach calls return err.
func (o *Output) End(err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.endErr = err
		o.cur = nil
		close(o.ended)
		o.mu.Unlock()
	})
}

// Done is closed once the stream has ended.
func (o *Output) Done() <-chan struct{} { return o.ended }
