package playback

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Buffer is one scheduled slice of mono audio.
type Buffer struct {
	Samples []float32
	Rate    int
}

// Duration returns the buffer's playback time.
func (b Buffer) Duration() time.Duration {
	return SampleDuration(len(b.Samples), b.Rate)
}

// Sink is where scheduled audio goes. Write is called in schedule order;
// Close discards anything still buffered and silences output.
type Sink interface {
	Start() error
	Write(Buffer) error
	Close() error
}

// Discard consumes audio without producing sound. Playback timing still
// advances on the scheduler clock, which is all the engine keys off.
type Discard struct{}

func (Discard) Start() error       { return nil }
func (Discard) Write(Buffer) error { return nil }
func (Discard) Close() error       { return nil }

// FFPlaySpeaker plays audio through an ffplay subprocess reading s16le mono
// from stdin. It is the reference sink for the CLI; killing the process on
// Close is what silences already-buffered audio.
type FFPlaySpeaker struct {
	path       string
	sampleRate int
	volume     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFPlaySpeaker creates a speaker. An empty path defaults to "ffplay" on
// PATH; volume <= 0 defaults to 80.
func NewFFPlaySpeaker(path string, sampleRate, volume int) *FFPlaySpeaker {
	if path == "" {
		path = "ffplay"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if volume <= 0 {
		volume = 80
	}
	return &FFPlaySpeaker{path: path, sampleRate: sampleRate, volume: volume}
}

// Start launches the ffplay process. Safe to call on a running speaker.
func (s *FFPlaySpeaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *FFPlaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL can pick a silent dummy backend on macOS; prefer CoreAudio
		// unless the user overrides it.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

// Write re-encodes the buffer to s16le and feeds it to ffplay. The pipe
// provides natural backpressure when chunks arrive faster than realtime.
func (s *FFPlaySpeaker) Write(b Buffer) error {
	if len(b.Samples) == 0 {
		return nil
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("speaker is not running")
	}
	_, err := stdin.Write(encodeS16LE(b.Samples))
	return err
}

// Close stops the speaker, discarding any buffered audio.
func (s *FFPlaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}

func encodeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		n := int16(v * 32767.0)
		out[2*i] = byte(n)
		out[2*i+1] = byte(n >> 8)
	}
	return out
}
