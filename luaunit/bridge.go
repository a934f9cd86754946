package luaunit

import (
	"github.com/advdv/bdispatch"
	lua "github.com/yuin/gopher-lua"
)

const (
	requestTypeName  = "bdispatch.request"
	responseTypeName = "bdispatch.response"
)

// call is the state of one dispatched request inside a unit. Its Lua objects are created on first use and shared by
// the handler and its deferred work.
type call struct {
	w *bdispatch.Response
	r *bdispatch.Request

	req, res *lua.LUserData

	// err is the error of the last failing response operation, it takes precedence over the Lua error it raised.
	err error
}

func (c *call) request(L *lua.LState) *lua.LUserData {
	if c.req == nil {
		c.req = newObject(L, c, requestTypeName)
	}
	return c.req
}

func (c *call) response(L *lua.LState) *lua.LUserData {
	if c.res == nil {
		c.res = newObject(L, c, responseTypeName)
	}
	return c.res
}

func newObject(L *lua.LState, c *call, typeName string) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = c
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

func registerBridge(L *lua.LState) {
	mt := L.NewTypeMetatable(requestTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), requestMethods))

	mt = L.NewTypeMetatable(responseTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), responseMethods))
}

func checkCall(L *lua.LState) *call {
	ud := L.CheckUserData(1)
	if c, ok := ud.Value.(*call); ok {
		return c
	}
	L.ArgError(1, "request or response expected")
	return nil
}

var requestMethods = map[string]lua.LGFunction{
	"conn": func(L *lua.LState) int {
		L.Push(lua.LNumber(checkCall(L).r.Conn()))
		return 1
	},
	"method": func(L *lua.LState) int {
		L.Push(lua.LString(checkCall(L).r.Method()))
		return 1
	},
	"target": func(L *lua.LState) int {
		L.Push(lua.LString(checkCall(L).r.Target()))
		return 1
	},
	"query": func(L *lua.LState) int {
		L.Push(stringTable(L, checkCall(L).r.Query()))
		return 1
	},
	"header": func(L *lua.LState) int {
		L.Push(stringTable(L, checkCall(L).r.Header()))
		return 1
	},
	"header_value": func(L *lua.LState) int {
		v, ok := checkCall(L).r.HeaderValue(L.CheckString(2))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	},
}

var responseMethods = map[string]lua.LGFunction{
	"status": func(L *lua.LState) int {
		L.Push(lua.LNumber(checkCall(L).w.Status()))
		return 1
	},
	"set_status": func(L *lua.LState) int {
		checkCall(L).w.SetStatus(L.CheckInt(2))
		return 0
	},
	"content_type": func(L *lua.LState) int {
		L.Push(lua.LString(checkCall(L).w.ContentType()))
		return 1
	},
	"set_content_type": func(L *lua.LState) int {
		checkCall(L).w.SetContentType(L.CheckString(2))
		return 0
	},
	"set_header": func(L *lua.LState) int {
		checkCall(L).w.SetHeader(L.CheckString(2), L.CheckString(3))
		return 0
	},
	"get_header": func(L *lua.LState) int {
		v, ok := checkCall(L).w.GetHeader(L.CheckString(2))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	},
	"closed": func(L *lua.LState) int {
		L.Push(lua.LBool(checkCall(L).w.Closed()))
		return 1
	},
	"send": func(L *lua.LState) int {
		c := checkCall(L)
		fail(L, c, c.w.SendString(L.OptString(2, "")))
		return 0
	},
	"send_error": func(L *lua.LState) int {
		c := checkCall(L)
		fail(L, c, c.w.SendError(L.CheckInt(2), L.OptString(3, "")))
		return 0
	},
}

// fail raises err in Lua and keeps it, so the call reports the original error instead of its Lua rendition.
func fail(L *lua.LState, c *call, err error) {
	if err == nil {
		return
	}
	c.err = err
	L.RaiseError("%s", err.Error())
}

func stringTable(L *lua.LState, m map[string]string) *lua.LTable {
	tbl := L.CreateTable(0, len(m))
	for k, v := range m {
		tbl.RawSetString(k, lua.LString(v))
	}
	return tbl
}
