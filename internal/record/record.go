// Package record implements the package record: the per-canonical-key state
// machine that tracks a package's progress through the eight phases, the
// lock it holds while doing so, and the dependency edges discovered along
// the way.
package record

import (
	"sync"

	"github.com/charlesnicholson/envy/internal/cache"
	"github.com/charlesnicholson/envy/internal/cfg"
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/phase"
)

// Record is allocated once per distinct canonical key. Its current_phase
// and target_phase only move forward, and every read and write of them
// (and of the error, asset and dependency fields the setters manage) goes
// through the mutex; the condition variable lets waiters block until a
// transition happens.
type Record struct {
	Key key.Key
	Cfg *cfg.Cfg

	mu   sync.Mutex
	cond *sync.Cond

	current phase.Phase
	target  phase.Phase

	err error

	AssetPath string
	ResultHash [32]byte
	HasResultHash bool

	// Entry is the cache guard held across check..deploy, or nil before
	// check runs. It stays set after deploy commits it.
	Entry *cache.Entry

	// DeclaredDependencies holds the dependency records recipe_fetch joined,
	// not just their keys: check's input digest (spec.md §4.5) needs each
	// dependency's result_hash, which is only valid once that dependency
	// reaches completion.
	DeclaredDependencies []*Record
}

// New allocates a fresh record in phase none with target none.
func New(k key.Key, c *cfg.Cfg) *Record {
	r := &Record{Key: k, Cfg: c, current: phase.None, target: phase.None}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Current returns the phase this record has completed up to.
func (r *Record) Current() phase.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Target returns the deepest phase any caller has requested so far.
func (r *Record) Target() phase.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Failed reports whether the record has transitioned to Failed.
func (r *Record) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current == phase.Failed
}

// Err returns the error that moved this record to Failed, or nil.
func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// RequestTarget lifts target to at least p. Demotion is forbidden and a
// request for a lower or equal target is a no-op; either way it is
// idempotent and safe to call repeatedly and concurrently. Waiters blocked
// in WaitUntil are woken so they can re-check their condition.
func (r *Record) RequestTarget(p phase.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p > r.target {
		r.target = p
		r.cond.Broadcast()
	}
}

// WaitForDeeperTarget blocks until target exceeds current, then returns
// the new target. Used by the pipeline driver goroutine to idle between
// phases once it has caught up to the currently requested target.
func (r *Record) WaitForDeeperTarget(current phase.Phase) phase.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.target <= current {
		r.cond.Wait()
	}
	return r.target
}

// Advance moves current forward by exactly one phase, from expectCurrent
// to expectCurrent.Next(). It reports whether the CAS succeeded; a false
// return means another goroutine already advanced (or failed) the record
// and the caller should stop driving this phase.
func (r *Record) Advance(expectCurrent phase.Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != expectCurrent {
		return false
	}
	r.current = expectCurrent.Next()
	r.cond.Broadcast()
	return true
}

// JumpTo performs a compare-and-swap current transition to an arbitrary
// phase, not just the next one. Used exclusively by the check phase's
// cache-hit fast path (spec.md §4.5), which skips fetch/stage/build/
// install entirely.
func (r *Record) JumpTo(expectCurrent, to phase.Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != expectCurrent {
		return false
	}
	r.current = to
	r.cond.Broadcast()
	return true
}

// Fail transitions the record to Failed and records err. It is
// idempotent: once failed, later calls are no-ops and return false.
func (r *Record) Fail(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == phase.Failed {
		return false
	}
	r.current = phase.Failed
	r.err = err
	r.cond.Broadcast()
	return true
}

// WaitUntil blocks until the record's current phase is at least p or the
// record has failed, then returns the terminal-or-reached phase. Per
// spec.md §4.5, a dependent only ever waits for a dependency to reach
// exactly its needed_by phase (or completion), never beyond — callers
// pass that phase as p.
func (r *Record) WaitUntil(p phase.Phase) phase.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.current != phase.Failed && r.current.Before(p) && r.current != p {
		r.cond.Wait()
	}
	return r.current
}

// SetAsset records the final asset path and result hash. Called by the
// install phase action before advancing past install.
func (r *Record) SetAsset(path string, hash [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AssetPath = path
	r.ResultHash = hash
	r.HasResultHash = true
}

// AddDependency appends a joined dependency's record to the record's
// declared dependency list, used by recipe_fetch as it parses a package's
// source_dependencies.
func (r *Record) AddDependency(dep *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DeclaredDependencies = append(r.DeclaredDependencies, dep)
}

// Dependencies returns a snapshot of the declared dependency records.
func (r *Record) Dependencies() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, len(r.DeclaredDependencies))
	copy(out, r.DeclaredDependencies)
	return out
}
