package luaunit

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value into plain Go values. Tables with the keys 1..n become slices, other tables become maps
// with string keys. Functions, userdata and tables that were already visited become nil.
func toGo(v lua.LValue) any {
	return toGoVisited(v, make(map[*lua.LTable]bool))
}

func toGoVisited(v lua.LValue, visited map[*lua.LTable]bool) any {
	switch lv := v.(type) {
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		if visited[lv] {
			return nil
		}
		visited[lv] = true
		defer delete(visited, lv)

		return tableToGo(lv, visited)
	default:
		return nil
	}
}

func tableToGo(tbl *lua.LTable, visited map[*lua.LTable]bool) any {
	if n := tbl.Len(); n > 0 && countKeys(tbl) == n {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGoVisited(tbl.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		switch kv := k.(type) {
		case lua.LString:
			m[string(kv)] = toGoVisited(v, visited)
		case lua.LNumber:
			m[strconv.FormatFloat(float64(kv), 'f', -1, 64)] = toGoVisited(v, visited)
		}
	})
	return m
}

func countKeys(tbl *lua.LTable) (n int) {
	tbl.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}
