//go:build test

package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectOutput drains the capture stream until it closes or goes quiet.
func collectOutput(t *testing.T, e *Engine) []OutputRecord {
	t.Helper()
	var records []OutputRecord
	for {
		select {
		case rec, ok := <-e.Output():
			if !ok {
				return records
			}
			records = append(records, rec)
		case <-time.After(200 * time.Millisecond):
			return records
		}
	}
}

func TestEngineCapturesPrint(t *testing.T) {
	// GOAL: Verify print output is captured instead of hitting the process stdout
	//
	// TEST SCENARIO: A script prints mixed argument types → one tab-joined stdout record each

	e := NewEngine(logrus.New())
	defer e.Close()

	require.NoError(t, e.Load(`print("hello", 42, true, nil)`, "test"))
	require.NoError(t, e.Execute())

	records := collectOutput(t, e)
	require.Len(t, records, 1, "one print MUST produce one record")
	assert.Equal(t, "hello\t42\ttrue\tnil\n", records[0].Content)
	assert.Equal(t, "stdout", records[0].Source)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestEngineSyntaxError(t *testing.T) {
	// GOAL: Verify an invalid script is rejected at load with a typed error
	//
	// TEST SCENARIO: Broken source → Load fails with a syntax Error carrying the source name

	e := NewEngine(logrus.New())
	defer e.Close()

	err := e.Load(`this is not lua`, "broken.lua")
	require.Error(t, err, "a syntax error MUST fail the load")

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "syntax", serr.Type)
	assert.Equal(t, "broken.lua", serr.Source)
}

func TestEngineRuntimeError(t *testing.T) {
	// GOAL: Verify a script failure surfaces as a typed runtime error with the line number
	//
	// TEST SCENARIO: error() on line 2 → Execute fails → Error carries type, line, message

	e := NewEngine(logrus.New())
	defer e.Close()

	require.NoError(t, e.Load("local x = 1\nerror(\"boom\")", "test"))
	err := e.Execute()
	require.Error(t, err, "the script failure MUST propagate")

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "runtime", serr.Type)
	assert.Equal(t, 2, serr.Line, "the error MUST carry the failing line")
	assert.Contains(t, serr.Message, "boom")

	records := collectOutput(t, e)
	require.NotEmpty(t, records, "the failure MUST also be reported on the output stream")
	assert.Equal(t, "stderr", records[len(records)-1].Source)
}

func TestEngineErrorMatching(t *testing.T) {
	// GOAL: Verify script errors compare by type through errors.Is

	syntaxErr := &Error{Type: "syntax", Message: "a"}
	assert.ErrorIs(t, syntaxErr, &Error{Type: "syntax"})
	assert.NotErrorIs(t, syntaxErr, &Error{Type: "runtime"})
}

func TestEngineRejectsEmptyScript(t *testing.T) {
	e := NewEngine(logrus.New())
	defer e.Close()

	err := e.Load("", "empty")
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "api", serr.Type)

	assert.Error(t, e.Execute(), "executing with nothing loaded MUST fail")
}

func TestEngineLoadFile(t *testing.T) {
	// GOAL: Verify scripts load from disk and a missing path is a plain I/O failure

	e := NewEngine(logrus.New())
	defer e.Close()

	path := filepath.Join(t.TempDir(), "script.lua")
	require.NoError(t, os.WriteFile(path, []byte(`print("from file")`), 0o644))

	require.NoError(t, e.LoadFile(path))
	require.NoError(t, e.Execute())
	records := collectOutput(t, e)
	require.Len(t, records, 1)
	assert.Equal(t, "from file\n", records[0].Content)

	assert.Error(t, e.LoadFile(filepath.Join(t.TempDir(), "missing.lua")))
}

func TestEngineCloseEndsOutput(t *testing.T) {
	// GOAL: Verify Close releases the state and closes the capture stream

	e := NewEngine(logrus.New())
	e.Close()
	e.Close() // idempotent

	_, ok := <-e.Output()
	assert.False(t, ok, "the output stream MUST close with the engine")
}
