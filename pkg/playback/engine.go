package playback

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// StreamOpener obtains the synthesized audio stream for a reply. The engine
// reads raw PCM16LE from the returned reader until EOF.
type StreamOpener func(ctx context.Context, text string) (io.ReadCloser, error)

// Hooks receive engine lifecycle notifications. All hooks are optional and
// never fire once the session has gone stale.
type Hooks struct {
	// FirstChunk fires exactly once, when the first audio buffer has been
	// scheduled. This is the moment the text reveal should begin.
	FirstChunk func()

	// Done fires after the last scheduled buffer has audibly finished.
	Done func()

	// Fallback fires when no audio could be played at all; the reply should
	// be revealed as text only. Mutually exclusive with FirstChunk.
	Fallback func(err error)
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	SampleRate int           // PCM sample rate, default DefaultSampleRate
	ReadSize   int           // stream read buffer, default 4096
	PollEvery  time.Duration // end-of-playback poll period, default 100ms
	EndMargin  time.Duration // guard after the scheduled end, default 150ms
	NewClock   func() Clock  // playback timebase, default NewClock
	NewSink    func() Sink   // audio output, default Discard
	Logger     *slog.Logger
}

// Engine streams a reply's audio: it requests the TTS stream, decodes PCM
// chunks with carry, schedules them gaplessly, and detects the true end of
// audible playback, re-checking the session at every suspension point so a
// stale run tears down silently.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with the given config.
func NewEngine(cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = 4096
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 100 * time.Millisecond
	}
	if cfg.EndMargin <= 0 {
		cfg.EndMargin = 150 * time.Millisecond
	}
	if cfg.NewClock == nil {
		cfg.NewClock = NewClock
	}
	if cfg.NewSink == nil {
		cfg.NewSink = func() Sink { return Discard{} }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}
}

// Play runs one playback session to completion: it blocks until playback
// has audibly finished, the session goes stale, or audio failed before the
// first chunk (in which case the Fallback hook has fired). ctx bounds the
// stream request.
func (e *Engine) Play(ctx context.Context, sess *Session, text string, open StreamOpener, h Hooks) {
	if sess.Stale() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Fire the request before the sink is warm so the network round trip
	// and the speaker spin-up overlap.
	type opened struct {
		body io.ReadCloser
		err  error
	}
	openCh := make(chan opened, 1)
	go func() {
		body, err := open(ctx, text)
		openCh <- opened{body: body, err: err}
	}()

	sink := e.cfg.NewSink()
	if err := sink.Start(); err != nil {
		if o := <-openCh; o.body != nil {
			_ = o.body.Close()
		}
		e.fallback(sess, h, err)
		return
	}

	clock := e.cfg.NewClock()
	sched := NewScheduler(clock)
	var dec Decoder

	o := <-openCh
	if o.err != nil {
		_ = sink.Close()
		e.fallback(sess, h, o.err)
		return
	}
	body := o.body
	defer body.Close()

	if sess.Stale() {
		_ = sink.Close()
		return
	}

	started := false
	buf := make([]byte, e.cfg.ReadSize)
	for {
		n, err := body.Read(buf)
		if sess.Stale() {
			_ = sink.Close()
			return
		}
		if n > 0 {
			samples := dec.Decode(buf[:n])
			if len(samples) > 0 {
				b := Buffer{Samples: samples, Rate: e.cfg.SampleRate}
				sched.Schedule(b.Duration())
				werr := sink.Write(b)
				if !started {
					started = true
					if h.FirstChunk != nil {
						h.FirstChunk()
					}
				}
				if werr != nil {
					// The sink is gone; let what was already scheduled run
					// out on the clock so the reveal still finishes.
					e.cfg.Logger.Debug("audio sink write failed", "error", werr)
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = sink.Close()
			if started {
				// Audio was already audible; treat a mid-stream failure as a
				// premature end rather than restarting the reveal.
				e.waitForEnd(sess, clock, sched)
				if !sess.Stale() && h.Done != nil {
					h.Done()
				}
				return
			}
			e.fallback(sess, h, err)
			return
		}
	}

	if !started {
		// Stream was empty. Nothing was scheduled, so reveal text only.
		_ = sink.Close()
		e.fallback(sess, h, io.ErrUnexpectedEOF)
		return
	}

	e.waitForEnd(sess, clock, sched)
	_ = sink.Close()
	if sess.Stale() {
		return
	}
	if h.Done != nil {
		h.Done()
	}
}

// waitForEnd polls until the clock passes the scheduled end plus the guard
// margin, or the session goes stale.
func (e *Engine) waitForEnd(sess *Session, clock Clock, sched *Scheduler) {
	end := sched.End() + e.cfg.EndMargin
	ticker := time.NewTicker(e.cfg.PollEvery)
	defer ticker.Stop()
	for {
		if sess.Stale() || clock.Now() >= end {
			return
		}
		<-ticker.C
	}
}

func (e *Engine) fallback(sess *Session, h Hooks, err error) {
	if sess.Stale() {
		return
	}
	e.cfg.Logger.Debug("tts audio unavailable, falling back to text-only reveal", "error", err)
	if h.Fallback != nil {
		h.Fallback(err)
	}
}
