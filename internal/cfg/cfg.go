// Package cfg parses a scripted package table into a validated Cfg and
// holds every Cfg ever parsed in a single append-only pool so pointers into
// it remain stable for the lifetime of an engine run.
package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/phase"
)

// SourceKind discriminates the tagged union a Cfg's Source holds.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceRemote
	SourceLocal
	SourceGit
	SourceFetchFunction
	SourceWeakRef
)

func (k SourceKind) String() string {
	switch k {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	case SourceGit:
		return "git"
	case SourceFetchFunction:
		return "fetch_function"
	case SourceWeakRef:
		return "weak_ref"
	default:
		return "none"
	}
}

// Source is the tagged union of where a package's content comes from.
type Source struct {
	Kind SourceKind

	// remote
	URL    string
	SHA256 string
	Subdir string

	// local
	FilePath string

	// git
	GitURL string
	Ref    string
	// Subdir is shared with remote above.

	// fetch_function: the raw closure handle, opaque to this package.
	// internal/script supplies the concrete type via this interface.
	FetchFunction any
}

// Cfg is the parsed, validated description of one package. All Cfgs are
// owned by a Pool; a *Cfg handed out by Parse is never moved or freed for
// the lifetime of the pool that produced it.
type Cfg struct {
	Identity           string
	Source             Source
	SerializedOptions  string
	NeededBy           phase.Phase
	HasNeededBy        bool
	Parent             *Cfg
	Weak               *Cfg
	SourceDependencies []*Cfg
	Product            string
	DeclaringFilePath  string

	// BuildFunction is an optional Lua closure (opaque to this package;
	// internal/script supplies the concrete type) run against stage/ to
	// produce install/ during the build phase. A cfg with no build
	// function gets the default build action: copy stage/ to install/
	// verbatim, the right behavior for a pre-built or header-only
	// package.
	BuildFunction any
}

// ErrInvalidCfg is returned when a scripted table fails field validation.
type ErrInvalidCfg struct {
	Identity string
	Field    string
	Reason   string
}

func (e *ErrInvalidCfg) Error() string {
	return fmt.Sprintf("cfg: %s: field %q: %s", e.Identity, e.Field, e.Reason)
}

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Pool is an append-only collection of Cfgs. The zero Pool is ready to use.
// Pool is safe for concurrent use: multiple recipe_fetch phases may parse
// dependency cfgs concurrently.
type Pool struct {
	mu   sync.Mutex
	cfgs []*Cfg
}

// NewPool returns an empty, ready-to-use pool.
func NewPool() *Pool { return &Pool{} }

// Len reports how many cfgs the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cfgs)
}

// All returns a snapshot slice of every cfg parsed so far. The returned
// slice is a copy; the *Cfg pointers within it are the pool's originals.
func (p *Pool) All() []*Cfg {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Cfg, len(p.cfgs))
	copy(out, p.cfgs)
	return out
}

func (p *Pool) insert(c *Cfg) *Cfg {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfgs = append(p.cfgs, c)
	return c
}

// ParseOptions carries the caller-controlled knobs that field validation
// depends on but that are not themselves part of the scripted table.
type ParseOptions struct {
	// AllowWeakWithoutSource permits a weak_ref cfg with no backing
	// source, per spec.md §4.2. The engine sets this when parsing a
	// dependency list's declared weak fallback; manifest-level package{}
	// declarations never set it.
	AllowWeakWithoutSource bool

	// Parent, if non-nil, is recorded on the returned Cfg for provenance
	// chain walking (internal/errfmt).
	Parent *Cfg

	// DeclaringFilePath is the absolute path of the manifest/spec file
	// the raw table was declared in. Required: SourceLocal's file_path
	// resolves relative to its directory.
	DeclaringFilePath string
}

// Raw is the loosely-typed shape internal/script hands back after running
// a manifest: the scripted package{} table, already converted out of Lua
// values into Go's any/map[string]any/[]any universe.
type Raw map[string]any

// allowedFields is every field Parse recognizes. Anything else in a raw
// table is rejected rather than silently dropped, per spec.md §4.2: a
// typo'd field name (sourcedependencies, neededby, ...) fails loudly
// instead of vanishing.
var allowedFields = map[string]bool{
	"identity":            true,
	"remote":              true,
	"local":               true,
	"git":                 true,
	"fetch_function":      true,
	"weak_ref":            true,
	"options":             true,
	"needed_by":           true,
	"build":               true,
	"product":             true,
	"source_dependencies": true,
}

// Parse validates a raw scripted table and appends the resulting Cfg to
// pool, returning a stable pointer to it.
func Parse(pool *Pool, raw Raw, opts ParseOptions) (*Cfg, error) {
	identity, _ := raw["identity"].(string)
	if identity == "" {
		return nil, &ErrInvalidCfg{Identity: "<unknown>", Field: "identity", Reason: "required and must be a non-empty string"}
	}

	for field := range raw {
		if !allowedFields[field] {
			return nil, &ErrInvalidCfg{Identity: identity, Field: field, Reason: "unrecognized field"}
		}
	}
	if _, err := key.Parse(identity + "{}"); err != nil {
		if _, err2 := splitIdentityOnly(identity); err2 != nil {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "identity", Reason: err2.Error()}
		}
	}

	src, err := parseSource(identity, raw, opts)
	if err != nil {
		return nil, err
	}

	c := &Cfg{
		Identity:          identity,
		Source:            src,
		DeclaringFilePath: opts.DeclaringFilePath,
		Parent:            opts.Parent,
	}

	if optsVal, ok := raw["options"]; ok {
		v, err := toKeyValue(optsVal)
		if err != nil {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "options", Reason: err.Error()}
		}
		serialized, err := key.Canonicalize(v)
		if err != nil {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "options", Reason: err.Error()}
		}
		c.SerializedOptions = serialized
	} else {
		c.SerializedOptions = "{}"
	}

	if nb, ok := raw["needed_by"]; ok {
		name, ok := nb.(string)
		if !ok {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "needed_by", Reason: "must be a phase name string"}
		}
		p, err := phase.Parse(name)
		if err != nil {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "needed_by", Reason: err.Error()}
		}
		c.NeededBy = p
		c.HasNeededBy = true
	}

	if fn, ok := raw["build"]; ok {
		c.BuildFunction = fn
	}

	if prod, ok := raw["product"]; ok {
		s, ok := prod.(string)
		if !ok || s == "" {
			return nil, &ErrInvalidCfg{Identity: identity, Field: "product", Reason: "must be a non-empty string"}
		}
		c.Product = s
	}

	if sd, ok := raw["source_dependencies"]; ok {
		deps, err := parseSourceDependencies(pool, identity, sd, c, opts)
		if err != nil {
			return nil, err
		}
		c.SourceDependencies = deps
	}

	return pool.insert(c), nil
}

// parseSourceDependencies parses each entry of a source_dependencies list
// into its own Cfg, recursing through Parse so every nested dependency gets
// the same field validation as a top-level package. parent links each
// dependency back to c for provenance walking (internal/errfmt); the
// dependency inherits the declaring cfg's declaring file path.
func parseSourceDependencies(pool *Pool, identity string, v any, parent *Cfg, opts ParseOptions) ([]*Cfg, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, &ErrInvalidCfg{Identity: identity, Field: "source_dependencies", Reason: "must be a list of package tables"}
	}

	deps := make([]*Cfg, 0, len(list))
	for i, entry := range list {
		var depRaw Raw
		switch t := entry.(type) {
		case Raw:
			depRaw = t
		case map[string]any:
			depRaw = Raw(t)
		default:
			return nil, &ErrInvalidCfg{
				Identity: identity,
				Field:    fmt.Sprintf("source_dependencies[%d]", i),
				Reason:   "must be a package table",
			}
		}

		depOpts := opts
		depOpts.Parent = parent
		depOpts.AllowWeakWithoutSource = true

		depCfg, err := Parse(pool, depRaw, depOpts)
		if err != nil {
			return nil, err
		}
		deps = append(deps, depCfg)
	}
	return deps, nil
}

// splitIdentityOnly is a narrower identity check than key.Parse: it
// accepts an identity missing options braces (the common case for a
// scripted cfg, which carries options separately).
func splitIdentityOnly(identity string) (key.Key, error) {
	return key.Make(identity, "")
}

func parseSource(identity string, raw Raw, opts ParseOptions) (Source, error) {
	present := 0
	var kind SourceKind

	if _, ok := raw["remote"]; ok {
		present++
		kind = SourceRemote
	}
	if _, ok := raw["local"]; ok {
		present++
		kind = SourceLocal
	}
	if _, ok := raw["git"]; ok {
		present++
		kind = SourceGit
	}
	if _, ok := raw["fetch_function"]; ok {
		present++
		kind = SourceFetchFunction
	}
	if _, ok := raw["weak_ref"]; ok {
		present++
		kind = SourceWeakRef
	}

	if present == 0 {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "source", Reason: "exactly one of remote/local/git/fetch_function/weak_ref is required"}
	}
	if present > 1 {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "source", Reason: "only one source shape may be present"}
	}

	switch kind {
	case SourceRemote:
		return parseRemote(identity, raw["remote"])
	case SourceLocal:
		return parseLocal(identity, raw["local"], opts.DeclaringFilePath)
	case SourceGit:
		return parseGit(identity, raw["git"])
	case SourceFetchFunction:
		fn := raw["fetch_function"]
		return Source{Kind: SourceFetchFunction, FetchFunction: fn}, nil
	case SourceWeakRef:
		if !opts.AllowWeakWithoutSource {
			return Source{}, &ErrInvalidCfg{Identity: identity, Field: "weak_ref", Reason: "rejected unless the caller allows a weak reference without backing source"}
		}
		return Source{Kind: SourceWeakRef}, nil
	default:
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "source", Reason: "unreachable"}
	}
}

func parseRemote(identity string, v any) (Source, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "remote", Reason: "must be a table"}
	}
	url, _ := m["url"].(string)
	if url == "" {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "remote.url", Reason: "required and must be non-empty"}
	}
	sha, _ := m["sha256"].(string)
	sha = strings.ToLower(sha)
	if !sha256Pattern.MatchString(sha) {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "remote.sha256", Reason: "must be 64-char lowercase hex"}
	}
	subdir, err := normalizeSubdir(identity, "remote.subdir", m["subdir"])
	if err != nil {
		return Source{}, err
	}
	return Source{Kind: SourceRemote, URL: url, SHA256: sha, Subdir: subdir}, nil
}

func parseLocal(identity string, v any, declaringFilePath string) (Source, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "local", Reason: "must be a table"}
	}
	fp, _ := m["file_path"].(string)
	if fp == "" {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "local.file_path", Reason: "required and must be non-empty"}
	}
	if !filepath.IsAbs(fp) {
		if declaringFilePath == "" {
			return Source{}, &ErrInvalidCfg{Identity: identity, Field: "local.file_path", Reason: "relative path requires a declaring file path"}
		}
		fp = filepath.Join(filepath.Dir(declaringFilePath), fp)
	}
	fp = filepath.Clean(fp)
	if _, err := os.Stat(fp); err != nil {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "local.file_path", Reason: "must exist: " + err.Error()}
	}
	return Source{Kind: SourceLocal, FilePath: fp}, nil
}

func parseGit(identity string, v any) (Source, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "git", Reason: "must be a table"}
	}
	url, _ := m["url"].(string)
	if url == "" {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "git.url", Reason: "required and must be non-empty"}
	}
	ref, _ := m["ref"].(string)
	if ref == "" {
		return Source{}, &ErrInvalidCfg{Identity: identity, Field: "git.ref", Reason: "required and must be non-empty"}
	}
	subdir, err := normalizeSubdir(identity, "git.subdir", m["subdir"])
	if err != nil {
		return Source{}, err
	}
	return Source{Kind: SourceGit, GitURL: url, Ref: ref, Subdir: subdir}, nil
}

func normalizeSubdir(identity, field string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ErrInvalidCfg{Identity: identity, Field: field, Reason: "must be a string"}
	}
	s = filepath.ToSlash(filepath.Clean(s))
	if s == "." {
		return "", nil
	}
	for _, part := range strings.Split(s, "/") {
		if part == ".." {
			return "", &ErrInvalidCfg{Identity: identity, Field: field, Reason: "must not contain '..' segments"}
		}
	}
	if strings.HasPrefix(s, "/") {
		return "", &ErrInvalidCfg{Identity: identity, Field: field, Reason: "must be relative"}
	}
	return s, nil
}

// toKeyValue converts the loosely-typed options table (as produced by
// internal/script out of a Lua table) into a key.Value tree suitable for
// key.Canonicalize.
func toKeyValue(v any) (key.Value, error) {
	switch t := v.(type) {
	case nil:
		return key.Nil, nil
	case bool:
		return key.Bool(t), nil
	case int:
		return key.Int(int64(t)), nil
	case int64:
		return key.Int(t), nil
	case float64:
		if t == float64(int64(t)) {
			// gopher-lua represents Lua integers and floats with the
			// same Go float64; internal/script converts integral Lua
			// numbers to int64 before they reach this point, so a bare
			// float64 here is always float-typed.
			return key.Float(t), nil
		}
		return key.Float(t), nil
	case string:
		return key.Str(t), nil
	case []any:
		arr := make([]key.Value, len(t))
		for i, e := range t {
			ev, err := toKeyValue(e)
			if err != nil {
				return key.Value{}, err
			}
			arr[i] = ev
		}
		return key.Table(arr, nil), nil
	case map[string]any:
		h := make(map[string]key.Value, len(t))
		for k, e := range t {
			ev, err := toKeyValue(e)
			if err != nil {
				return key.Value{}, err
			}
			h[k] = ev
		}
		return key.Table(nil, h), nil
	default:
		return key.Value{}, fmt.Errorf("cfg: unsupported option value type %T", v)
	}
}
