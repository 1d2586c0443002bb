package client

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carelink/messenger/internal/model"
)

const (
	// debounceWindow collapses a burst of keystrokes into one
	// typing=true signal.
	debounceWindow = 300 * time.Millisecond

	// typingTimeout is the inactivity window after the last keystroke
	// before typing=false is sent.
	typingTimeout = 2 * time.Second
)

// SignalFunc delivers an outbound typing signal. Fire-and-forget.
type SignalFunc func(isTyping bool)

// Debouncer converts raw local keystrokes into rate-limited typing
// signals: typing=true on the leading edge of a burst, typing=false
// after typingTimeout of inactivity. There is only ever one
// outstanding inactivity timer per session.
type Debouncer struct {
	mu      sync.Mutex
	signal  SignalFunc
	timeout time.Duration
	starts  *rate.Limiter
	typing  bool
	idle    *time.Timer
	stopped bool
}

func NewDebouncer(signal SignalFunc) *Debouncer {
	return newDebouncer(signal, debounceWindow, typingTimeout)
}

func newDebouncer(signal SignalFunc, window, timeout time.Duration) *Debouncer {
	return &Debouncer{
		signal:  signal,
		timeout: timeout,
		starts:  rate.NewLimiter(rate.Every(window), 1),
	}
}

// Keystroke records one local input event. The inactivity timer is
// debounced: every keystroke pushes the typing=false signal out to a
// full timeout again.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	start := false
	if !d.typing && d.starts.Allow() {
		d.typing = true
		start = true
	}

	if d.typing {
		if d.idle == nil {
			d.idle = time.AfterFunc(d.timeout, d.expire)
		} else {
			d.idle.Reset(d.timeout)
		}
	}
	d.mu.Unlock()

	if start {
		d.signal(true)
	}
}

func (d *Debouncer) expire() {
	d.mu.Lock()
	if d.stopped || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.mu.Unlock()

	d.signal(false)
}

// Stop tears the debouncer down, sending a final typing=false if a
// burst was still open. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	wasTyping := d.typing
	d.typing = false
	if d.idle != nil {
		d.idle.Stop()
	}
	d.mu.Unlock()

	if wasTyping {
		d.signal(false)
	}
}

// MergeTyping folds a partial "currently typing" update into the
// previous state. Two passes: users previously typing but absent from
// the update are flipped to false (the transport sends active sets,
// not stop events), then every user present in the update is marked
// typing. Entries are never removed.
func MergeTyping(prev, update model.TypingState) model.TypingState {
	next := prev.Clone()
	for user, typing := range prev {
		if typing && !update[user] {
			next[user] = false
		}
	}
	for user, typing := range update {
		if typing {
			next[user] = true
		}
	}
	return next
}
