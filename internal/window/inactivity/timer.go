// Package inactivity keeps one debounced timer per key and reports keys
// that stayed quiet for the armed duration.
package inactivity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Timer holds at most one pending timer per key. Re-arming a key replaces
// its timer, and a replaced timer never fires even if it already expired.
type Timer struct {
	logger zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*entry
	gen     uint64
	stopped bool

	// tracks armed timers whose callback may still run
	wg sync.WaitGroup
}

func New(l zerolog.Logger) *Timer {
	return &Timer{
		logger: l.With().Str("component", "inactivity").Logger(),
		timers: make(map[string]*entry),
	}
}

// Arm (re)starts the timer of key. fire runs on its own goroutine once key
// was not armed again for d. A non positive d disarms the key.
func (t *Timer) Arm(key string, d time.Duration, fire func(key string)) {
	if d <= 0 {
		t.Disarm(key)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.cancel(key)

	t.gen++
	gen := t.gen
	t.wg.Add(1)
	t.timers[key] = &entry{
		gen: gen,
		timer: time.AfterFunc(d, func() {
			defer t.wg.Done()
			if !t.claim(key, gen) {
				return
			}
			t.logger.Trace().Str("key", key).Dur("after", d).Msg("key inactive")
			fire(key)
		}),
	}
}

// claim removes the entry of key if it still belongs to generation gen.
func (t *Timer) claim(key string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.timers[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(t.timers, key)
	return true
}

// cancel must be called with mu held.
func (t *Timer) cancel(key string) {
	e, ok := t.timers[key]
	if !ok {
		return
	}
	delete(t.timers, key)
	if e.timer.Stop() {
		// the callback will never run
		t.wg.Done()
	}
}

// Disarm forgets the timer of key.
func (t *Timer) Disarm(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel(key)
}

// Stop disarms every key and waits for callbacks that already started.
// Arm is a no-op afterwards. Stop must not be called from a fire callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopped = true
	for key := range t.timers {
		t.cancel(key)
	}
	t.mu.Unlock()

	t.wg.Wait()
}

// Pending is the number of armed keys.
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
