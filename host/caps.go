package host

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// MaxOutputBytes caps the captured script output. Output beyond the cap
// is dropped and a truncation marker is appended.
const MaxOutputBytes = 1 << 20 // 1 MiB

const truncationMarker = "\n... [output truncated]"

// Runner executes one script against the scene and returns its captured
// output. Implementations are not required to be thread-safe; the
// executor guarantees one call at a time.
type Runner interface {
	Run(ctx context.Context, script string) (logs string, err error)
}

// Sandbox runs scripts in a Lua state that exposes only the scene
// capability set. Standard libraries that reach the filesystem, the
// process environment, or dynamic code loading are never opened, and
// the leftover base-library loaders are unset after open.
//
// Sandbox is NOT thread-safe. A single executor owns it.
type Sandbox struct {
	state *lua.LState
	scene *Scene
	out   strings.Builder
}

// NewSandbox creates a sandbox bound to the given scene.
func NewSandbox(scene *Scene) *Sandbox {
	sb := &Sandbox{scene: scene}
	sb.state = sb.newState()
	return sb
}

func (sb *Sandbox) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// Safe subset only. os, io and debug stay closed.
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	// OpenBase installs dynamic loaders; unset them.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(sb.luaPrint))

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"add_object":    sb.luaAddObject,
		"delete_object": sb.luaDeleteObject,
		"move_object":   sb.luaMoveObject,
		"get_object":    sb.luaGetObject,
		"object_count":  sb.luaObjectCount,
		"frame_range":   sb.luaFrameRange,
	})
	L.SetGlobal("scene", mod)

	return L
}

// Run executes the script and returns everything it printed. The output
// buffer is reset and the Lua context is detached on every exit path,
// including panics inside the runtime.
func (sb *Sandbox) Run(ctx context.Context, script string) (logs string, err error) {
	sb.out.Reset()
	sb.state.SetContext(ctx)

	defer func() {
		sb.state.RemoveContext()
		logs = sb.capturedOutput()
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()

	if err := sb.state.DoString(script); err != nil {
		// A state aborted mid-run by context cancellation is not safe to
		// reuse. Rebuild it; the scene itself is unaffected.
		if ctx.Err() != nil {
			sb.state.Close()
			sb.state = sb.newState()
		}
		return "", fmt.Errorf("script fault: %w", err)
	}
	return "", nil
}

// Close releases the Lua state.
func (sb *Sandbox) Close() {
	sb.state.Close()
}

func (sb *Sandbox) capturedOutput() string {
	s := sb.out.String()
	if len(s) > MaxOutputBytes {
		return s[:MaxOutputBytes] + truncationMarker
	}
	return s
}

// Truncated reports whether the last run's output exceeded the cap.
func (sb *Sandbox) Truncated() bool {
	return sb.out.Len() > MaxOutputBytes
}

func (sb *Sandbox) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	// Stop buffering once past the cap; the marker is added on read.
	if sb.out.Len() > MaxOutputBytes {
		return 0
	}
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	sb.out.WriteString(strings.Join(parts, "\t"))
	sb.out.WriteString("\n")
	return 0
}

// checkVec3 reads a 3-element numeric Lua table at the given stack index.
func checkVec3(L *lua.LState, idx int) [3]float64 {
	tbl := L.CheckTable(idx)
	var v [3]float64
	for i := range 3 {
		n, ok := tbl.RawGetInt(i + 1).(lua.LNumber)
		if !ok {
			L.ArgError(idx, fmt.Sprintf("element %d must be a number", i+1))
		}
		v[i] = float64(n)
	}
	return v
}

func pushVec3(L *lua.LState, v [3]float64) *lua.LTable {
	tbl := L.NewTable()
	for i := range 3 {
		tbl.RawSetInt(i+1, lua.LNumber(v[i]))
	}
	return tbl
}

// scene.add_object(name, type, {x, y, z})
func (sb *Sandbox) luaAddObject(L *lua.LState) int {
	name := L.CheckString(1)
	objType := L.CheckString(2)
	loc := checkVec3(L, 3)

	if _, err := sb.scene.AddObject(name, objType, loc); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// scene.delete_object(name)
func (sb *Sandbox) luaDeleteObject(L *lua.LState) int {
	if err := sb.scene.DeleteObject(L.CheckString(1)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// scene.move_object(name, {x, y, z})
func (sb *Sandbox) luaMoveObject(L *lua.LState) int {
	name := L.CheckString(1)
	loc := checkVec3(L, 2)
	if err := sb.scene.MoveObject(name, loc); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// scene.get_object(name) -> table or nil
func (sb *Sandbox) luaGetObject(L *lua.LState) int {
	obj := sb.scene.Object(L.CheckString(1))
	if obj == nil {
		L.Push(lua.LNil)
		return 1
	}
	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString(obj.Name))
	tbl.RawSetString("type", lua.LString(obj.Type))
	tbl.RawSetString("location", pushVec3(L, obj.Location))
	tbl.RawSetString("rotation", pushVec3(L, obj.Rotation))
	tbl.RawSetString("scale", pushVec3(L, obj.Scale))
	L.Push(tbl)
	return 1
}

// scene.object_count() -> number
func (sb *Sandbox) luaObjectCount(L *lua.LState) int {
	L.Push(lua.LNumber(sb.scene.Len()))
	return 1
}

// scene.frame_range() -> start, end
func (sb *Sandbox) luaFrameRange(L *lua.LState) int {
	L.Push(lua.LNumber(sb.scene.FrameStart))
	L.Push(lua.LNumber(sb.scene.FrameEnd))
	return 2
}

var _ Runner = (*Sandbox)(nil)
