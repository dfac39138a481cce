// Package envyerr defines the error taxonomy every phase action reports
// through: a fixed set of kinds, never Go types, so callers switch on Kind()
// rather than doing type assertions against a zoo of error structs.
package envyerr

import "fmt"

// Kind is one of the error taxonomy entries.
type Kind int

const (
	InvalidIdentity Kind = iota
	InvalidCfg
	CycleError
	CacheError
	NetworkError
	FetchError
	ExtractError
	BuildError
	HashMismatch
	WeakFallback
	ScriptError
)

func (k Kind) String() string {
	switch k {
	case InvalidIdentity:
		return "InvalidIdentity"
	case InvalidCfg:
		return "InvalidCfg"
	case CycleError:
		return "CycleError"
	case CacheError:
		return "CacheError"
	case NetworkError:
		return "NetworkError"
	case FetchError:
		return "FetchError"
	case ExtractError:
		return "ExtractError"
	case BuildError:
		return "BuildError"
	case HashMismatch:
		return "HashMismatch"
	case WeakFallback:
		return "WeakFallback"
	case ScriptError:
		return "ScriptError"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. Identity and Phase are filled in by the
// pipeline as it wraps an underlying action error; Identity carries the
// package's identity string for log correlation.
type Error struct {
	Kind     Kind
	Identity string
	Phase    string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (phase %s)", e.Kind, e.Identity, e.Phase)
	}
	return fmt.Sprintf("%s: %s (phase %s): %v", e.Kind, e.Identity, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a taxonomy kind, identity, and phase name.
func New(kind Kind, identity, phaseName string, err error) *Error {
	return &Error{Kind: kind, Identity: identity, Phase: phaseName, Err: err}
}

// Retryable reports whether a Kind may be retried by the caller (only
// NetworkError, per spec.md §7's exponential-backoff policy).
func (k Kind) Retryable() bool { return k == NetworkError }
