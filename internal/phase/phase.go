// Package phase defines the ordered execution phases every package in the
// engine walks through, from recipe resolution to deployment.
package phase

import "fmt"

// Phase is one of the ordered stages a package record transitions through.
// Phases are comparable with the usual integer operators: an earlier phase
// is always numerically smaller than a later one.
type Phase int

const (
	// None is the zero value: the record has not started executing.
	None Phase = iota
	// RecipeFetch resolves the cfg's script source into a concrete spec file.
	RecipeFetch
	// Check probes the cache for a pre-built, content-addressed entry.
	Check
	// Fetch downloads source content into the working fetch area.
	Fetch
	// Stage extracts or copies fetched content into the working stage area.
	Stage
	// Build runs the package's build step against the staged tree.
	Build
	// Install finalizes build output and computes the result hash.
	Install
	// Deploy publishes the asset path and releases the cache lock.
	Deploy
	// Completion signals waiters that the package has fully resolved.
	Completion

	// Failed is a terminal state outside the normal ordering: a package
	// enters it from any phase on unrecoverable error. It does not compare
	// meaningfully against the ordered phases above.
	Failed
)

var names = [...]string{
	None:        "none",
	RecipeFetch: "recipe_fetch",
	Check:       "check",
	Fetch:       "fetch",
	Stage:       "stage",
	Build:       "build",
	Install:     "install",
	Deploy:      "deploy",
	Completion:  "completion",
	Failed:      "failed",
}

// String returns the canonical lowercase name of the phase.
func (p Phase) String() string {
	if p < None || int(p) >= len(names) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return names[p]
}

// Valid reports whether p is one of the defined ordered phases (Failed is
// excluded: it is a terminal state, not a position in the sequence).
func (p Phase) Valid() bool {
	return p >= None && p <= Completion
}

// Parse converts a phase name (as used in `needed_by` annotations) back into
// a Phase. It never returns Failed, which is not a nameable target phase.
func Parse(name string) (Phase, error) {
	for i := None; i <= Completion; i++ {
		if names[i] == name {
			return i, nil
		}
	}
	return None, fmt.Errorf("phase: invalid phase name %q", name)
}

// Next returns the phase that immediately follows p in the ordered sequence.
// Calling Next on Completion or Failed returns Completion.
func (p Phase) Next() Phase {
	if p < None || p >= Completion {
		return Completion
	}
	return p + 1
}

// Before reports whether p strictly precedes other in phase order. Failed
// never precedes anything and nothing precedes Failed.
func (p Phase) Before(other Phase) bool {
	if p == Failed || other == Failed {
		return false
	}
	return p < other
}
