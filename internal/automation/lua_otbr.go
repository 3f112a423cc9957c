//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"

	"otbr-gateway/internal/gateway"
)

const (
	maxHandlersPerScript = 100
	maxParamDepth        = 8
)

// registerOtbrModule registers the `otbr` global table in a Lua state.
// logf receives otbr.log messages.
func registerOtbrModule(L *lua.LState, vm *scriptVM, e *Engine, logf func(string)) {
	mod := L.NewTable()

	mod.RawSetString("call", L.NewFunction(func(L *lua.LState) int {
		return otbrCall(L, vm, e)
	}))
	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return otbrOn(L, vm)
	}))
	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return otbrAfter(L, vm, e)
	}))
	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		logf(L.CheckString(1))
		return 0
	}))
	mod.RawSetString("commands", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		for i, c := range e.gw.Commands() {
			tbl.RawSetInt(i+1, lua.LString(c.Name))
		}
		L.Push(tbl)
		return 1
	}))

	L.SetGlobal("otbr", mod)
}

// otbr.call(method [, params]) returns the reply as a table, or nil and a
// message for an unknown method. params is a table or a JSON string.
func otbrCall(L *lua.LState, vm *scriptVM, e *Engine) int {
	method := L.CheckString(1)

	var raw []byte
	switch p := L.Get(2).(type) {
	case *lua.LNilType:
	case lua.LString:
		raw = []byte(p)
	case *lua.LTable:
		b, err := luaToJSON(p, 0)
		if err != nil {
			L.ArgError(2, err.Error())
			return 0
		}
		raw = b
	default:
		L.ArgError(2, "params must be a table or a json string")
		return 0
	}

	doc, err := e.gw.Call(vm.ctx, method, raw)
	if err != nil {
		if !errors.Is(err, gateway.ErrUnknownCommand) {
			e.logger.Error("script call", "method", method, "err", err)
		}
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	b, err := doc.MarshalJSON()
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(jsonToLua(L, gjson.ParseBytes(b)))
	return 1
}

// otbr.on(type, [filter,] callback)
func otbrOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	switch L.GetTop() {
	case 2:
		h.fn = L.CheckFunction(2)
	default:
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		h.filter = make(map[string]string)
		filter.ForEach(func(k, v lua.LValue) {
			h.filter[k.String()] = v.String()
		})
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// otbr.after(seconds, callback)
func otbrAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)
	d := time.Duration(float64(seconds) * float64(time.Second))

	go func() {
		select {
		case <-e.clock.After(d):
		case <-vm.ctx.Done():
			return
		}
		e.post(vm, func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		})
	}()
	return 0
}

// luaToJSON encodes a table as a JSON object, or as an array when it has
// only sequence keys.
func luaToJSON(t *lua.LTable, depth int) ([]byte, error) {
	if depth > maxParamDepth {
		return nil, fmt.Errorf("params nested deeper than %d", maxParamDepth)
	}
	isArray := t.MaxN() > 0
	out := []byte("{}")
	if isArray {
		out = []byte("[]")
	}

	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		path := "-1"
		if !isArray {
			path = gjson.Escape(k.String())
		}
		switch val := v.(type) {
		case lua.LString:
			out, err = sjson.SetBytes(out, path, string(val))
		case lua.LNumber:
			out, err = sjson.SetBytes(out, path, float64(val))
		case lua.LBool:
			out, err = sjson.SetBytes(out, path, bool(val))
		case *lua.LTable:
			var nested []byte
			if nested, err = luaToJSON(val, depth+1); err == nil {
				out, err = sjson.SetRawBytes(out, path, nested)
			}
		default:
			err = fmt.Errorf("unsupported value type %s", v.Type())
		}
	})
	return out, err
}

// jsonToLua converts a decoded JSON value into Lua.
func jsonToLua(L *lua.LState, res gjson.Result) lua.LValue {
	switch res.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.False:
		return lua.LFalse
	case gjson.True:
		return lua.LTrue
	case gjson.Number:
		return lua.LNumber(res.Num)
	case gjson.String:
		return lua.LString(res.Str)
	}
	t := L.NewTable()
	if res.IsArray() {
		for i, v := range res.Array() {
			t.RawSetInt(i+1, jsonToLua(L, v))
		}
		return t
	}
	res.ForEach(func(k, v gjson.Result) bool {
		t.RawSetString(k.Str, jsonToLua(L, v))
		return true
	})
	return t
}
