package terminal

import (
	"context"
	"sync"
)

// Stream is the per-session terminal stream pair: an input queue consumed by
// a single interpreter goroutine, and an output sink that fans text out to
// every connection joined to the session. One Stream exists per container
// handle; it is created lazily on first join and reused for the life of the
// handle, so the interpreter state (working directory) is shared no matter
// how many connections attach.
type Stream struct {
	sessionID string
	virtual   bool

	input chan string
	sink  func(text string)

	closeOnce sync.Once
	done      chan struct{}
}

func newStream(sessionID string, virtual bool, sink func(text string)) *Stream {
	return &Stream{
		sessionID: sessionID,
		virtual:   virtual,
		input:     make(chan string, 64),
		sink:      sink,
		done:      make(chan struct{}),
	}
}

// SessionID returns the owning session id.
func (s *Stream) SessionID() string { return s.sessionID }

// Virtual reports whether the stream is served by the in-memory emulation.
func (s *Stream) Virtual() bool { return s.virtual }

// WriteInput queues one chunk of terminal input. Input arriving after the
// stream is closed is discarded; when the queue is full the call blocks
// until the interpreter catches up. Lines are processed strictly in order.
func (s *Stream) WriteInput(text string) {
	select {
	case <-s.done:
	case s.input <- text:
	}
}

// Close stops the interpreter goroutine. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Stream) emit(text string) {
	s.sink(text)
}

// run is the interpreter loop: one command's output completes, including its
// deferred prompt, before the next line is taken up. Sessions run fully
// independently of one another.
func (s *Stream) run(ctx context.Context, svc *Service) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case line := <-s.input:
			svc.handleLine(ctx, s, line)
		}
	}
}
