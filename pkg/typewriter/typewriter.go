// Package typewriter reveals a known final string one character at a time on
// a fixed cadence, the way the conversation view types out assistant replies.
package typewriter

import (
	"sync"
	"time"
)

// DefaultInterval is the reveal cadence used by the conversation view.
const DefaultInterval = 40 * time.Millisecond

// Engine drives a character-by-character reveal. One engine belongs to one
// conversation view. Start implicitly cancels a run already in progress
// without finalizing it; each run that is allowed to finish, naturally or
// via Stop, finalizes exactly once through OnDone.
type Engine struct {
	interval time.Duration
	onTick   func(fragment string)
	onDone   func(final string)

	mu       sync.Mutex
	runes    []rune
	index    int
	fragment string
	stopCh   chan struct{}
}

// New creates an engine. onTick receives each in-progress fragment, onDone
// the finalized text. Either callback may be nil. interval <= 0 selects
// DefaultInterval.
func New(interval time.Duration, onTick func(string), onDone func(string)) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{interval: interval, onTick: onTick, onDone: onDone}
}

// Start begins revealing target from the first character. A previous run is
// cancelled silently. An empty target finalizes immediately.
func (e *Engine) Start(target string) {
	e.mu.Lock()
	e.cancelLocked()
	e.runes = []rune(target)
	e.index = 0
	e.fragment = ""
	if len(e.runes) == 0 {
		done := e.onDone
		e.mu.Unlock()
		if done != nil {
			done("")
		}
		return
	}
	stop := make(chan struct{})
	e.stopCh = stop
	e.mu.Unlock()

	go e.loop(stop)
}

// Stop halts the current run and finalizes with final, which may be the
// partially revealed fragment or the full known text. No-op when idle.
func (e *Engine) Stop(final string) {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	e.cancelLocked()
	e.fragment = ""
	done := e.onDone
	e.mu.Unlock()
	if done != nil {
		done(final)
	}
}

// Fragment returns the currently revealed prefix.
func (e *Engine) Fragment() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fragment
}

// Active reports whether a reveal is in progress.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCh != nil
}

func (e *Engine) cancelLocked() {
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}

func (e *Engine) loop(stop chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if e.step(stop) {
				return
			}
		}
	}
}

// step reveals one character. Returns true when the run is over, either
// because the target is fully revealed or the run was superseded.
func (e *Engine) step(stop chan struct{}) bool {
	e.mu.Lock()
	if e.stopCh != stop {
		e.mu.Unlock()
		return true
	}
	e.index++
	frag := string(e.runes[:e.index])
	e.fragment = frag
	finished := e.index >= len(e.runes)
	var done func(string)
	var final string
	if finished {
		e.stopCh = nil
		e.fragment = ""
		done = e.onDone
		final = string(e.runes)
	}
	tick := e.onTick
	e.mu.Unlock()

	if tick != nil {
		tick(frag)
	}
	if finished && done != nil {
		done(final)
	}
	return finished
}
