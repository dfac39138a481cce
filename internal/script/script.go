// Package script is the Lua runtime binding spec.md §1 treats as an
// external collaborator and §6 names as "the sole input to cfg parsing":
// it loads a manifest file, collects every package{...} table it declares,
// and invokes fetch_function/build closures on the engine's behalf.
// Built on github.com/yuin/gopher-lua, the idiomatic Go embedding for a
// Lua dialect (spec.md §1's "Lua runtime binding").
package script

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/charlesnicholson/envy/internal/cfg"
)

// Runtime loads manifests and invokes their closures. Each manifest file
// gets its own *lua.LState so two manifests never share global state.
type Runtime struct{}

// New returns a ready Runtime.
func New() *Runtime { return &Runtime{} }

// LoadManifest runs the Lua file at path and returns every table passed to
// the manifest-global package(...) constructor, converted to cfg.Raw for
// internal/cfg.Parse to validate. The function form (rather than a plain
// table literal) lets the manifest declare several packages and lets
// internal/cfg's caller attach Parent/DeclaringFilePath per call.
func (rt *Runtime) LoadManifest(path string) ([]cfg.Raw, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSandboxedLibs(L)

	var collected []cfg.Raw
	L.SetGlobal("package", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		raw, err := luaTableToRaw(tbl)
		if err != nil {
			L.RaiseError("package(): %v", err)
			return 0
		}
		collected = append(collected, raw)
		return 0
	}))

	if err := L.DoFile(path); err != nil {
		return nil, fmt.Errorf("script: load manifest %s: %w", path, &Error{Traceback: err.Error()})
	}
	return collected, nil
}

// RunFetchFunction invokes a fetch_function cfg's Lua closure (opaque
// `fn any`, the *lua.LFunction a manifest declared) with workDir as its
// destination argument, per spec.md §4.5's recipe_fetch action. The
// closure's return value, if a table of package tables, becomes the
// package's declared_dependencies.
func (rt *Runtime) RunFetchFunction(ctx context.Context, fn any, workDir string) ([]map[string]any, error) {
	lfn, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("script: fetch_function is not a Lua closure (got %T)", fn)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSandboxedLibs(L)

	if err := L.CallByParam(lua.P{
		Fn:      lfn,
		NRet:    1,
		Protect: true,
	}, lua.LString(workDir)); err != nil {
		return nil, fmt.Errorf("script: fetch_function: %w", &Error{Traceback: err.Error()})
	}

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		return nil, nil
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("script: fetch_function must return a table of dependencies or nil, got %s", ret.Type())
	}

	var deps []map[string]any
	var outerErr error
	tbl.ForEach(func(_, v lua.LValue) {
		if outerErr != nil {
			return
		}
		depTbl, ok := v.(*lua.LTable)
		if !ok {
			outerErr = fmt.Errorf("script: fetch_function dependency entries must be tables, got %s", v.Type())
			return
		}
		raw, err := luaTableToRaw(depTbl)
		if err != nil {
			outerErr = err
			return
		}
		deps = append(deps, raw)
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return deps, nil
}

// RunBuildFunction invokes a cfg's build{} Lua closure with stageDir and
// installDir as its arguments and returns the shell command line it
// produces, per spec.md §4.5's build action. A build closure that returns
// nothing (a script that performs the build itself via Lua, not a shell
// command) yields an empty command, which the caller should treat as
// "already built, nothing left to run".
func (rt *Runtime) RunBuildFunction(ctx context.Context, fn any, stageDir, installDir string) (string, error) {
	lfn, ok := fn.(*lua.LFunction)
	if !ok {
		return "", fmt.Errorf("script: build function is not a Lua closure (got %T)", fn)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSandboxedLibs(L)

	if err := L.CallByParam(lua.P{
		Fn:      lfn,
		NRet:    1,
		Protect: true,
	}, lua.LString(stageDir), lua.LString(installDir)); err != nil {
		return "", fmt.Errorf("script: build function: %w", &Error{Traceback: err.Error()})
	}

	ret := L.Get(-1)
	L.Pop(1)
	if ret == lua.LNil {
		return "", nil
	}
	cmd, ok := ret.(lua.LString)
	if !ok {
		return "", fmt.Errorf("script: build function must return a command string or nil, got %s", ret.Type())
	}
	return string(cmd), nil
}

// RunHook invokes a zero-or-one-argument Lua closure for its side effects
// only (internal/deploy's post-deploy hook); any return value is ignored.
func (rt *Runtime) RunHook(ctx context.Context, fn any, arg string) error {
	lfn, ok := fn.(*lua.LFunction)
	if !ok {
		return fmt.Errorf("script: hook is not a Lua closure (got %T)", fn)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSandboxedLibs(L)

	if err := L.CallByParam(lua.P{
		Fn:      lfn,
		NRet:    0,
		Protect: true,
	}, lua.LString(arg)); err != nil {
		return fmt.Errorf("script: hook: %w", &Error{Traceback: err.Error()})
	}
	return nil
}

// openSandboxedLibs loads a restricted standard library subset: no
// os.execute/io.popen (spec.md §3.5's "sandboxed standard library
// subset: no os.execute, no io.popen"), leaving string/table/math and an
// os table with two stubs: os.getenv always returns "" and os.time always
// returns 0.
func openSandboxedLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	osTbl := L.NewTable()
	osTbl.RawSetString("getenv", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(""))
		return 1
	}))
	osTbl.RawSetString("time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(0))
		return 1
	}))
	L.SetGlobal("os", osTbl)
}

// Error carries a raw gopher-lua error string so internal/errfmt can
// clean it via FormatTraceback without this package depending on errfmt
// (errfmt depends the other direction, on package records).
type Error struct{ Traceback string }

func (e *Error) Error() string { return e.Traceback }

// FormatTraceback strips gopher-lua's internal stack-frame markers and
// pseudo-file markers from a raw Lua error string, per spec.md §4.6's
// "cleaned stack trace (drop native-frame markers and pseudo-file
// markers)" requirement.
func FormatTraceback(err error) string {
	raw := err.Error()
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[G]") || strings.HasPrefix(trimmed, "[string \"") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// luaTableToRaw converts a *lua.LTable (a package{...} or dependency
// table) into cfg.Raw, recursing into nested tables/arrays. Functions are
// preserved as *lua.LFunction (opaque fetch_function/build closures);
// every other Lua value is converted to its Go analog.
func luaTableToRaw(tbl *lua.LTable) (cfg.Raw, error) {
	raw := cfg.Raw{}
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			return // array-part entries are not field names; ignored here
		}
		gv, convErr := luaValueToGo(v)
		if convErr != nil {
			err = convErr
			return
		}
		raw[string(key)] = gv
	})
	return raw, err
}

func luaValueToGo(v lua.LValue) (any, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(t), nil
	case *lua.LFunction:
		return t, nil
	case *lua.LTable:
		return luaTableToGoAny(t)
	default:
		return nil, fmt.Errorf("script: unsupported Lua value type %s", v.Type())
	}
}

// luaTableToGoAny converts a table to either []any (pure array part) or
// map[string]any (any hash-part keys present), matching the shape
// internal/cfg.toKeyValue expects for the options field.
func luaTableToGoAny(tbl *lua.LTable) (any, error) {
	n := tbl.Len()
	hasHashKeys := false
	tbl.ForEach(func(k, _ lua.LValue) {
		if _, ok := k.(lua.LNumber); !ok {
			hasHashKeys = true
		}
	})

	if !hasHashKeys && n > 0 {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			gv, err := luaValueToGo(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, gv)
		}
		return arr, nil
	}

	m := map[string]any{}
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		gv, convErr := luaValueToGo(v)
		if convErr != nil {
			err = convErr
			return
		}
		switch kt := k.(type) {
		case lua.LString:
			m[string(kt)] = gv
		case lua.LNumber:
			m[fmt.Sprintf("%v", float64(kt))] = gv
		}
	})
	return m, err
}
