package plugin

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// ScriptGlobal is the global table through which Lua plugins reach the assistant.
const ScriptGlobal = "assistant"

type luaScript struct {
	source string
	proto  *lua.FunctionProto
}

// compileLua parses source once at discovery so syntax errors disqualify the plugin early.
func compileLua(name, source string) (*luaScript, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	return &luaScript{source: source, proto: proto}, nil
}

// Source returns the Lua source of an EmbeddedScript descriptor.
func (d *Descriptor) Source() (string, bool) {
	s, ok := d.handle.(*luaScript)
	if !ok {
		return "", false
	}
	return s.source, true
}

// runScript evaluates the chunk in a fresh state bound to ctx.
func (e *Executor) runScript(ctx context.Context, d *Descriptor, command string, pc *Context) (string, error) {
	script, ok := d.handle.(*luaScript)
	if !ok || script == nil {
		return "", fmt.Errorf("script handle has type %T", d.handle)
	}

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	api := L.NewTable()
	L.SetField(api, "speak", L.NewFunction(func(L *lua.LState) int {
		pc.Speak(L.CheckString(1))
		return 0
	}))
	L.SetField(api, "command", lua.LString(command))
	L.SetField(api, "plugin", lua.LString(d.Name))
	L.SetGlobal(ScriptGlobal, api)
	L.SetGlobal("command", lua.LString(command))

	L.Push(L.NewFunctionFromProto(script.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return "", err
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		return v.String(), nil
	default:
		return "", nil
	}
}
