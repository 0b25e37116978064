package script

import (
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// registerHelpers installs the string helpers as globals
func registerHelpers(L *lua.LState) {
	L.SetGlobal("trim", L.NewFunction(luaTrim))
	L.SetGlobal("lower", L.NewFunction(luaLower))
	L.SetGlobal("clean_spaces", L.NewFunction(luaCleanSpaces))
	L.SetGlobal("truncate", L.NewFunction(luaTruncate))
	L.SetGlobal("parse_int", L.NewFunction(luaParseInt))
	L.SetGlobal("get_name", L.NewFunction(luaGetName))
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

// luaCleanSpaces collapses runs of whitespace and trims
func luaCleanSpaces(L *lua.LState) int {
	s := whitespaceRegex.ReplaceAllString(L.CheckString(1), " ")
	L.Push(lua.LString(strings.TrimSpace(s)))
	return 1
}

// luaTruncate cuts a string to at most n characters
func luaTruncate(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if runes := []rune(s); len(runes) > n {
		s = string(runes[:n])
	}
	L.Push(lua.LString(s))
	return 1
}

// luaParseInt returns the integer value of a string, or the default (nil)
func luaParseInt(L *lua.LState) int {
	s := strings.TrimSpace(L.CheckString(1))
	def := L.Get(2)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		L.Push(lua.LNumber(v))
	} else {
		L.Push(def)
	}
	return 1
}

// luaGetName returns name:<lang> when a language is given and set,
// falling back to name, int_name and name:en
func luaGetName(L *lua.LState) int {
	tags := L.CheckTable(1)
	keys := []string{"name", "int_name", "name:en"}
	if lang := L.OptString(2, ""); lang != "" {
		keys = append([]string{"name:" + lang}, keys...)
	}

	for _, k := range keys {
		if s := lua.LVAsString(L.GetField(tags, k)); s != "" {
			L.Push(lua.LString(s))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}
