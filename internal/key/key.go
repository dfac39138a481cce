// Package key implements envy's canonical package key: an immutable string
// of the form "ns.name@rev{k1=v1,k2=v2,...}" that uniquely identifies a
// package plus its resolved options.
package key

import (
	"fmt"
	"hash/maphash"
	"strings"
)

// Key is a parsed view over a canonical key string. The zero Key is invalid;
// always construct one through Make or Parse.
type Key struct {
	canonical string
	namespace string
	name      string
	revision  string // includes the leading '@'
	options   string // "" or the canonical "{...}" serialization
	hash      uint64
}

var seed = maphash.MakeSeed()

// ErrInvalidIdentity is returned when a canonical string or identity is
// structurally malformed.
type ErrInvalidIdentity struct {
	Input  string
	Reason string
}

func (e *ErrInvalidIdentity) Error() string {
	return fmt.Sprintf("key: invalid identity %q: %s", e.Input, e.Reason)
}

// Make builds a canonical key from an identity ("ns.name@rev") and an
// already-canonicalized options string (the empty string or "{}" both mean
// "no options"). The trailing "{}" is elided from the canonical form.
func Make(identity, serializedOptions string) (Key, error) {
	ns, name, rev, err := splitIdentity(identity)
	if err != nil {
		return Key{}, err
	}

	opts := serializedOptions
	if opts == "{}" {
		opts = ""
	}

	canonical := identity
	if opts != "" {
		canonical = identity + opts
	}

	k := Key{
		canonical: canonical,
		namespace: ns,
		name:      name,
		revision:  rev,
		options:   opts,
	}
	k.hash = maphash.Bytes(seed, []byte(canonical))
	return k, nil
}

// Parse validates and decomposes a full canonical string.
func Parse(canonical string) (Key, error) {
	identity := canonical
	opts := ""
	if i := strings.IndexByte(canonical, '{'); i >= 0 {
		if !strings.HasSuffix(canonical, "}") {
			return Key{}, &ErrInvalidIdentity{Input: canonical, Reason: "unterminated options"}
		}
		identity = canonical[:i]
		opts = canonical[i:]
	}
	return Make(identity, opts)
}

// splitIdentity validates and splits "ns.name@rev" into its three parts.
func splitIdentity(identity string) (ns, name, rev string, err error) {
	at := strings.IndexByte(identity, '@')
	if at < 0 {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "missing '@revision'"}
	}
	prefix := identity[:at]
	rev = identity[at:]
	if len(rev) <= 1 {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "empty revision"}
	}

	dot := strings.IndexByte(prefix, '.')
	if dot < 0 {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "missing 'namespace.name'"}
	}
	ns = prefix[:dot]
	name = prefix[dot+1:]
	if ns == "" {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "empty namespace"}
	}
	if strings.Contains(ns, ".") {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "namespace contains '.'"}
	}
	if name == "" {
		return "", "", "", &ErrInvalidIdentity{Input: identity, Reason: "empty name"}
	}
	return ns, name, rev, nil
}

// String returns the canonical string form.
func (k Key) String() string { return k.canonical }

// Namespace returns the namespace component.
func (k Key) Namespace() string { return k.namespace }

// Name returns the name component.
func (k Key) Name() string { return k.name }

// Revision returns the revision component, including its leading '@'.
func (k Key) Revision() string { return k.revision }

// Identity returns the canonical string with options stripped:
// "namespace.name@revision".
func (k Key) Identity() string { return k.namespace + "." + k.name + k.revision }

// Options returns the canonical options serialization, or "" if the package
// has no options.
func (k Key) Options() string { return k.options }

// IsZero reports whether k is the unconstructed zero value.
func (k Key) IsZero() bool { return k.canonical == "" }

// Equal reports whether two keys have byte-equal canonical forms.
func (k Key) Equal(other Key) bool { return k.canonical == other.canonical }

// Hash returns a process-local, non-cryptographic hash of the canonical
// string suitable for use as a map key alongside k itself (Key is already a
// valid, comparable map key on its own; Hash exists for callers that want a
// fixed-size fingerprint, e.g. for logging correlation).
func (k Key) Hash() uint64 { return k.hash }

// Query is a partial match pattern over a canonical key: any combination of
// name, namespace, revision, or full canonical form. Fields left empty
// wildcard-match.
type Query struct {
	Namespace string
	Name      string
	Revision  string
	Options   string
}

// ParseQuery interprets a user-supplied string as a partial query. Accepted
// forms: "name", "ns.name", "name@rev", "ns.name@rev", or a full canonical
// key with options.
func ParseQuery(s string) (Query, error) {
	if s == "" {
		return Query{}, &ErrInvalidIdentity{Input: s, Reason: "empty query"}
	}

	rest := s
	opts := ""
	if i := strings.IndexByte(rest, '{'); i >= 0 {
		if !strings.HasSuffix(rest, "}") {
			return Query{}, &ErrInvalidIdentity{Input: s, Reason: "unterminated options"}
		}
		opts = rest[i:]
		rest = rest[:i]
	}

	rev := ""
	if at := strings.IndexByte(rest, '@'); at >= 0 {
		rev = rest[at:]
		rest = rest[:at]
	}

	ns := ""
	name := rest
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		ns = rest[:dot]
		name = rest[dot+1:]
	}
	if name == "" {
		return Query{}, &ErrInvalidIdentity{Input: s, Reason: "empty name"}
	}

	if opts == "{}" {
		opts = ""
	}
	return Query{Namespace: ns, Name: name, Revision: rev, Options: opts}, nil
}

// Matches reports whether k satisfies q: every non-empty field of q must
// match k's corresponding component exactly; empty fields are wildcards.
func (k Key) Matches(q Query) bool {
	if q.Namespace != "" && q.Namespace != k.namespace {
		return false
	}
	if q.Name != "" && q.Name != k.name {
		return false
	}
	if q.Revision != "" && q.Revision != k.revision {
		return false
	}
	if q.Options != "" && q.Options != k.options {
		return false
	}
	return true
}
