package jobs

import (
	"sort"
	"sync"
	"time"
)

// Registry holds at most one pending or running handle per job name.
// It is an explicit instance; pass it to whatever needs to schedule work.
type Registry struct {
	clock   Clock
	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

type entry struct {
	gen     uint64
	timer   Timer
	running bool
}

// NewRegistry creates a registry driven by clock. A nil clock means SystemClock.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

// Clock returns the clock driving the registry
func (r *Registry) Clock() Clock {
	return r.clock
}

// Schedule arms fn to run once after delay under name. Any existing handle
// under the same name is stopped and replaced first.
func (r *Registry) Schedule(name string, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[name]; ok && old.timer != nil {
		old.timer.Stop()
	}

	r.gen++
	gen := r.gen
	e := &entry{gen: gen}
	r.entries[name] = e
	e.timer = r.clock.AfterFunc(delay, func() { r.fire(name, gen, fn) })
}

// Cancel stops and removes the job. It returns false when nothing was scheduled.
// A run already in progress is not interrupted.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, name)
	return true
}

// Exists reports whether name is pending or currently running
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// Running reports whether the job's function is executing right now
func (r *Registry) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.running
}

// Names returns the registered job names, sorted
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fire runs fn if the handle that armed it is still the current one. The entry
// stays registered while fn runs and is dropped afterwards unless fn (or anyone
// else) re-scheduled the name in the meantime.
func (r *Registry) fire(name string, gen uint64, fn func()) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	e.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if cur, ok := r.entries[name]; ok && cur.gen == gen {
			delete(r.entries, name)
		}
		r.mu.Unlock()
	}()

	fn()
}
