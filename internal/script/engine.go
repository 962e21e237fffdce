// Package script runs Lua automation against the session engine. A script
// drives discovery and a command exchange through the global `bluart`
// table (scan, connect, sleep, and per-device send/expect/close); its
// print output is captured into a ring so the caller decides where it
// goes.
package script

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/ringchan"
)

// outputBuffer sizes the raw print-capture stream between the Lua state
// and the collector.
const outputBuffer = 100

// OutputRecord is one captured line of script output.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Error carries a structured Lua failure.
type Error struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *Error) Error() string {
	prefix := "lua error"
	var parts []string
	if e.Source != "" {
		parts = append(parts, "in "+e.Source)
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}
	if len(parts) > 0 {
		prefix = fmt.Sprintf("lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Underlying }

// Is matches script errors by Type.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// Engine owns one Lua state with print capture. It is safe for concurrent
// use; every state access serializes on the internal mutex.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	script string
	output *ringchan.RingChannel[OutputRecord]
}

// NewEngine creates an engine with a fresh Lua state. Callers must Close
// it to release the state.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger: logger,
		output: ringchan.New[OutputRecord](outputBuffer),
	}
	e.reset()
	return e
}

// Output returns the captured print stream. The stream closes on Close.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// do runs fn against the live state, serialized. fn is skipped after Close.
func (e *Engine) do(fn func(L *lua.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		fn(e.state)
	}
}

// LoadFile loads and validates a script from disk.
func (e *Engine) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Load(string(content), path)
}

// Load validates a script without running it.
func (e *Engine) Load(script, name string) error {
	if script == "" {
		return &Error{Type: "api", Message: "empty script", Source: name}
	}
	e.script = script

	var loadErr error
	e.do(func(L *lua.State) {
		if status := L.LoadString(script); status != 0 {
			loadErr = e.popError(L, "syntax", name)
			return
		}
		L.Pop(1)
	})
	return loadErr
}

// Execute runs the loaded script to completion. Script print output lands
// on the Output stream either way; a failure is additionally reported
// there as a stderr record.
func (e *Engine) Execute() error {
	if e.script == "" {
		return &Error{Type: "api", Message: "no script loaded"}
	}

	var execErr error
	e.do(func(L *lua.State) {
		if err := L.DoString(e.script); err != nil {
			serr := e.popError(L, "runtime", "")
			serr.Underlying = err
			e.emit(fmt.Sprintf("%v\n", serr), "stderr")
			execErr = serr
		}
	})
	return execErr
}

// Close releases the Lua state and closes the output stream.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
		e.output.Close()
	}
	e.mu.Unlock()
}

// reset builds a fresh state with the standard libraries and print capture.
func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.installPrint(e.state)
}

// emit pushes one captured record. Records are dropped once the engine is
// closed.
func (e *Engine) emit(content, source string) {
	e.output.Send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source})
}

// installPrint replaces Lua's print with a capture that joins arguments
// with tabs, like the stock implementation, and sends the line to the
// output stream.
func (e *Engine) installPrint(L *lua.State) {
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, stringify(L, i))
		}
		e.emit(strings.Join(parts, "\t")+"\n", "stdout")
		return 0
	})
	L.SetGlobal("print")
}

// stringify renders the value at index the way print would.
func stringify(L *lua.State, index int) string {
	switch {
	case L.IsNil(index):
		return "nil"
	case L.IsBoolean(index):
		if L.ToBoolean(index) {
			return "true"
		}
		return "false"
	case L.IsNumber(index):
		return strconv.FormatFloat(L.ToNumber(index), 'g', -1, 64)
	case L.IsString(index):
		return L.ToString(index)
	default:
		// Tables, functions, userdata: let Lua's tostring name them.
		L.GetGlobal("tostring")
		L.PushValue(index)
		L.Call(1, 1)
		s := L.ToString(-1)
		L.Pop(1)
		return s
	}
}

// popError consumes the error value on top of the stack and parses the
// conventional "source:line: message" shape.
func (e *Engine) popError(L *lua.State, errType, source string) *Error {
	if L.GetTop() == 0 {
		return &Error{Type: errType, Message: "unknown lua error", Source: source}
	}

	msg := "non-string error object"
	if L.IsString(-1) {
		msg = L.ToString(-1)
	}
	L.Pop(1)

	serr := &Error{Type: errType, Message: msg, Source: source}
	if parts := strings.SplitN(msg, ":", 3); len(parts) == 3 {
		if line, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			serr.Line = line
			serr.Message = strings.TrimSpace(parts[2])
			if source == "" {
				serr.Source = strings.TrimSpace(parts[0])
			}
		}
	}
	return serr
}
