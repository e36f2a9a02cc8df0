package prompt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var (
	ErrSandboxTimeout = errors.New("lua sandbox timeout")
	ErrSandboxMemory  = errors.New("lua sandbox memory limit")
)

const defaultLuaTimeout = 2 * time.Second

// Script is a compiled-on-demand Lua chunk run in a fresh sandboxed state on
// every call. Code that parses as a single expression is wrapped in a return.
type Script struct {
	Name    string
	Code    string
	Timeout time.Duration
}

func NewScript(name, code string, timeout time.Duration) *Script {
	code = wrapExpression(code)
	if timeout <= 0 {
		timeout = defaultLuaTimeout
	}
	return &Script{Name: name, Code: code, Timeout: timeout}
}

// Check compiles the script without running it.
func (s *Script) Check() error {
	L := newSandboxState("")
	defer L.Close()
	if _, err := L.LoadString(s.Code); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	return nil
}

// Run executes the script with globals and returns its first result converted
// to Go values. seed makes math.random reproducible per record.
func (s *Script) Run(ctx context.Context, seed string, globals map[string]any) (any, error) {
	ret, err := s.eval(ctx, seed, globals)
	if err != nil {
		return nil, err
	}
	return fromLValue(ret), nil
}

// Test runs the script and reports its result as Lua sees it: everything
// except nil and false is true.
func (s *Script) Test(ctx context.Context, seed string, globals map[string]any) (bool, error) {
	ret, err := s.eval(ctx, seed, globals)
	if err != nil {
		return false, err
	}
	return lua.LVAsBool(ret), nil
}

func (s *Script) eval(ctx context.Context, seed string, globals map[string]any) (lua.LValue, error) {
	L := newSandboxState(seed)
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	L.SetContext(ctx)

	for k, v := range globals {
		L.SetGlobal(k, toLValue(L, v))
	}
	fn, err := L.LoadString(s.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", s.Name, ErrSandboxTimeout)
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if strings.Contains(strings.ToLower(err.Error()), "registry overflow") {
			return nil, fmt.Errorf("%s: %w", s.Name, ErrSandboxMemory)
		}
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// newSandboxState opens only the base, string, table and math libraries.
// Loading helpers that reach the filesystem are removed from base.
func newSandboxState(seed string) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:     true,
		RegistrySize:     256,
		RegistryMaxSize:  1 << 16,
		RegistryGrowStep: 32,
	})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	installDeterministicRandom(L, seedFor(seed))
	return L
}

func seedFor(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func installDeterministicRandom(L *lua.LState, seed int64) {
	mathTbl, ok := L.GetGlobal("math").(*lua.LTable)
	if !ok {
		return
	}
	rng := rand.New(rand.NewSource(seed))
	mathTbl.RawSetString("random", L.NewFunction(func(L *lua.LState) int {
		switch L.GetTop() {
		case 0:
			L.Push(lua.LNumber(rng.Float64()))
		case 1:
			hi := L.CheckInt(1)
			if hi < 1 {
				L.ArgError(1, "interval is empty")
				return 0
			}
			L.Push(lua.LNumber(rng.Intn(hi) + 1))
		default:
			lo, hi := L.CheckInt(1), L.CheckInt(2)
			if hi < lo {
				L.ArgError(2, "interval is empty")
				return 0
			}
			L.Push(lua.LNumber(rng.Intn(hi-lo+1) + lo))
		}
		return 1
	}))
	mathTbl.RawSetString("randomseed", L.NewFunction(func(L *lua.LState) int { return 0 }))
}

// wrapExpression returns "return (code)" when that parses, else code as is.
// The newlines keep a trailing comment from swallowing the parenthesis.
func wrapExpression(code string) string {
	wrapped := "return (\n" + code + "\n)"
	if _, err := parse.Parse(strings.NewReader(wrapped), "<expr>"); err == nil {
		return wrapped
	}
	return code
}

func toLValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(float64(x))
	case int64:
		return lua.LNumber(float64(x))
	case float64:
		return lua.LNumber(x)
	case map[string]any:
		tbl := L.NewTable()
		for k, v2 := range x {
			tbl.RawSetString(k, toLValue(L, v2))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, v2 := range x {
			tbl.RawSetInt(i+1, toLValue(L, v2))
		}
		return tbl
	default:
		return lua.LNil
	}
}

func fromLValue(v lua.LValue) any {
	switch v.Type() {
	case lua.LTNil:
		return nil
	case lua.LTBool:
		return lua.LVAsBool(v)
	case lua.LTNumber:
		return float64(v.(lua.LNumber))
	case lua.LTString:
		return v.String()
	case lua.LTTable:
		t := v.(*lua.LTable)
		var arr []any
		isArray := true
		t.ForEach(func(k, val lua.LValue) {
			if !isArray {
				return
			}
			if lk, ok := k.(lua.LNumber); ok && int(lk) == len(arr)+1 {
				arr = append(arr, fromLValue(val))
			} else {
				isArray = false
			}
		})
		if isArray && arr != nil {
			return arr
		}
		obj := map[string]any{}
		t.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = fromLValue(val)
		})
		return obj
	}
	return nil
}
