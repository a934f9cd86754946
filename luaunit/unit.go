package luaunit

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/advdv/bdispatch"
	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// unit owns the Lua state of one loaded script. gopher-lua states are not safe for concurrent use, every access to
// L happens with mu held.
type unit struct {
	name   string
	loader *Loader

	mu        sync.Mutex
	L         *lua.LState
	cur       *call
	included  map[string]lua.LValue
	including map[string]bool
}

func newUnit(name string, loader *Loader) (*unit, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSafeLibs(L); err != nil {
		L.Close()
		return nil, err
	}

	u := &unit{
		name:      name,
		loader:    loader,
		L:         L,
		included:  make(map[string]lua.LValue),
		including: make(map[string]bool),
	}

	registerBridge(L)
	u.openGlobals()
	return u, nil
}

// openSafeLibs opens the libraries that do not reach outside of the state. io, os, debug and package stay closed.
func openSafeLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return errors.Wrapf(err, "open %q", lib.name)
		}
	}

	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

func (u *unit) close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.L.Close()
}

// run executes the unit's script and returns its first result.
func (u *unit) run(ctx context.Context, name string, code []byte) (lua.LValue, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	fn, err := u.L.Load(bytes.NewReader(code), name)
	if err != nil {
		return nil, errors.Wrapf(err, "compile %q", name)
	}

	return u.callLocked(ctx, fn, nil)
}

// call calls fn with the request and response of c.
func (u *unit) call(ctx context.Context, fn *lua.LFunction, c *call) (lua.LValue, error) {
	u.mu.Lock()
	return u.callHeld(ctx, fn, c)
}

// callHeld is call for a caller that acquired mu already, mu is released when the call returned.
func (u *unit) callHeld(ctx context.Context, fn *lua.LFunction, c *call) (lua.LValue, error) {
	defer u.mu.Unlock()

	c.err = nil
	return u.callLocked(ctx, fn, c, c.request(u.L), c.response(u.L))
}

func (u *unit) callLocked(ctx context.Context, fn *lua.LFunction, c *call, args ...lua.LValue) (lua.LValue, error) {
	ctx, cancel := context.WithTimeout(ctx, u.loader.cfg.CallTimeout)
	defer cancel()

	u.L.SetContext(ctx)
	defer u.L.RemoveContext()

	u.cur = c
	defer func() { u.cur = nil }()

	if err := u.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return nil, u.callError(c, err)
	}

	ret := u.L.Get(-1)
	u.L.Pop(1)
	return ret, nil
}

// callError turns a failed call into the error that is reported to the dispatcher. An error raised by the bridge
// is returned as is. A script can pick the status by raising a table: error({status = 404, message = "..."}).
func (u *unit) callError(c *call, err error) error {
	if c != nil && c.err != nil {
		return c.err
	}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return errors.Wrapf(err, "call %q", u.name)
	}

	u.loader.logs.Debug("lua error", zap.String("unit", u.name), zap.String("trace", apiErr.StackTrace))

	if tbl, ok := apiErr.Object.(*lua.LTable); ok {
		if status, ok := tbl.RawGetString("status").(lua.LNumber); ok {
			msg := lua.LVAsString(tbl.RawGetString("message"))
			if msg == "" {
				msg = http.StatusText(int(status))
			}
			return bdispatch.NewError(bdispatch.Code(status), bdispatch.KindUnknown, errors.New(msg))
		}
	}

	if apiErr.Object == nil {
		return errors.Newf("%s: %s", u.name, apiErr.Error())
	}
	return errors.New(apiErr.Object.String())
}

// export converts a script result into the value the dispatcher classifies.
func (u *unit) export(v lua.LValue) any {
	switch lv := v.(type) {
	case *lua.LFunction:
		return &handler{unit: u, fn: lv}
	case *lua.LTable:
		exports := bdispatch.Exports{}
		lv.ForEach(func(k, v lua.LValue) {
			if key, ok := k.(lua.LString); ok {
				exports[string(key)] = u.exportValue(v)
			}
		})
		return exports
	case lua.LString:
		return string(lv)
	default:
		return toGo(v)
	}
}

func (u *unit) exportValue(v lua.LValue) any {
	if fn, ok := v.(*lua.LFunction); ok {
		return &handler{unit: u, fn: fn}
	}
	return toGo(v)
}

// handler implements [bdispatch.Handler] for a Lua function.
type handler struct {
	unit *unit
	fn   *lua.LFunction
}

// ServeDispatch implements [bdispatch.Handler]. If the Lua function returns a function, that function is called as
// deferred work. When the unit is busy with another call, the whole handler runs as deferred work, so the caller
// never waits for the unit.
func (h *handler) ServeDispatch(
	ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
) (*bdispatch.Deferred, error) {
	c := &call{w: w, r: r}
	if !h.unit.mu.TryLock() {
		return bdispatch.Spawn(ctx, w, func(ctx context.Context) error {
			ret, err := h.unit.call(ctx, h.fn, c)
			if err != nil {
				return err
			}
			if next, ok := ret.(*lua.LFunction); ok {
				_, err = h.unit.call(ctx, next, c)
			}
			return err
		}), nil
	}

	ret, err := h.unit.callHeld(ctx, h.fn, c)
	if err != nil {
		return nil, err
	}

	next, ok := ret.(*lua.LFunction)
	if !ok {
		return nil, nil
	}

	return bdispatch.Spawn(ctx, w, func(ctx context.Context) error {
		_, err := h.unit.call(ctx, next, c)
		return err
	}), nil
}
