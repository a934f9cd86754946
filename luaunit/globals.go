package luaunit

import (
	"bytes"
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func (u *unit) openGlobals() {
	u.L.SetGlobal("log", u.L.NewFunction(u.logFunc(zapcore.InfoLevel)))
	u.L.SetGlobal("log_error", u.L.NewFunction(u.logFunc(zapcore.ErrorLevel)))
	u.L.SetGlobal("include", u.L.NewFunction(u.include))
	u.L.SetGlobal("json", u.L.SetFuncs(u.L.NewTable(), map[string]lua.LGFunction{
		"get":    jsonGet,
		"set":    jsonSet,
		"delete": jsonDelete,
		"valid":  jsonValid,
	}))
}

// logFunc returns a function that logs its arguments, separated by spaces, at lvl.
func (u *unit) logFunc(lvl zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}

		fields := []zap.Field{zap.String("unit", u.name)}
		if u.cur != nil {
			fields = append(fields, zap.Uint64("conn", uint64(u.cur.r.Conn())))
		}

		u.loader.logs.Log(lvl, strings.Join(parts, " "), fields...)
		return 0
	}
}

// include executes another script in the unit's state and returns its result. Results are kept per unit, so every
// script is executed at most once. On failure it returns nil and the error message.
func (u *unit) include(L *lua.LState) int {
	name := u.loader.includeName(L.CheckString(1))
	if v, ok := u.included[name]; ok {
		L.Push(v)
		return 1
	}

	v, err := u.includeChunk(L, name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	u.included[name] = v
	L.Push(v)
	return 1
}

func (u *unit) includeChunk(L *lua.LState, name string) (lua.LValue, error) {
	if u.including[name] {
		return nil, errors.Newf("circular include of '%s'", name)
	}
	u.including[name] = true
	defer delete(u.including, name)

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	code, err := u.loader.read(ctx, name)
	if err != nil {
		return nil, err
	}

	fn, err := L.Load(bytes.NewReader(code), name)
	if err != nil {
		return nil, errors.Newf("compile '%s': %v", name, err)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, errors.Newf("run '%s': %v", name, err)
	}

	v := L.Get(-1)
	L.Pop(1)
	return v, nil
}

// jsonGet implements json.get(doc, path). Objects and arrays are returned as their raw JSON text, missing values
// as nil.
func jsonGet(L *lua.LState) int {
	res := gjson.Get(L.CheckString(1), L.CheckString(2))
	switch res.Type {
	case gjson.String:
		L.Push(lua.LString(res.Str))
	case gjson.Number:
		L.Push(lua.LNumber(res.Num))
	case gjson.True:
		L.Push(lua.LTrue)
	case gjson.False:
		L.Push(lua.LFalse)
	case gjson.JSON:
		L.Push(lua.LString(res.Raw))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// jsonSet implements json.set(doc, path, value). Tables are encoded as objects, or as arrays when their keys are
// the sequence 1..n.
func jsonSet(L *lua.LState) int {
	out, err := sjson.Set(L.CheckString(1), L.CheckString(2), toGo(L.Get(3)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(out))
	return 1
}

func jsonDelete(L *lua.LState) int {
	out, err := sjson.Delete(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LString(out))
	return 1
}

func jsonValid(L *lua.LState) int {
	L.Push(lua.LBool(gjson.Valid(L.CheckString(1))))
	return 1
}
