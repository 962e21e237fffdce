package script

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/registry"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

// defaultExpectTimeout applies when a script calls expect without one.
const defaultExpectTimeout = 5 * time.Second

// API is the `bluart` table exposed to scripts:
//
//	bluart.scan(seconds)        -> array of {address, name, rssi, quality}
//	bluart.connect(address)     -> device
//	bluart.sleep(ms)
//	device:send(text)           -> sequence number
//	device:expect(re, [ms])     -> matched line, or nil and the reason
//	device:close()
//
// expect patterns are Go regular expressions matched against response and
// unsolicited notification lines in arrival order.
type API struct {
	engine      *Engine
	logger      *logrus.Logger
	ctx         context.Context
	sessionOpts *session.Options
	scanOpts    *registry.ScanOptions

	mu      sync.Mutex
	devices map[int64]*deviceHandle
	nextID  int64
}

// NewAPI binds an API to the engine. Nil options select the package
// defaults of the respective component.
func NewAPI(ctx context.Context, engine *Engine, sessionOpts *session.Options, scanOpts *registry.ScanOptions, logger *logrus.Logger) *API {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if scanOpts == nil {
		scanOpts = registry.DefaultScanOptions()
	}
	api := &API{
		engine:      engine,
		logger:      logger,
		ctx:         ctx,
		sessionOpts: sessionOpts,
		scanOpts:    scanOpts,
		devices:     make(map[int64]*deviceHandle),
	}
	api.register()
	return api
}

// Close tears down every session the script left open.
func (api *API) Close() {
	api.mu.Lock()
	handles := make([]*deviceHandle, 0, len(api.devices))
	for _, h := range api.devices {
		handles = append(handles, h)
	}
	api.devices = make(map[int64]*deviceHandle)
	api.mu.Unlock()

	for _, h := range handles {
		h.session.Close()
	}
}

// register installs the global `bluart` table.
func (api *API) register() {
	api.engine.do(func(L *lua.State) {
		L.NewTable()

		L.PushString("scan")
		L.PushGoFunction(api.luaScan)
		L.SetTable(-3)

		L.PushString("connect")
		L.PushGoFunction(api.luaConnect)
		L.SetTable(-3)

		L.PushString("sleep")
		L.PushGoFunction(api.luaSleep)
		L.SetTable(-3)

		L.SetGlobal("bluart")
	})
}

// luaScan implements bluart.scan([seconds]).
func (api *API) luaScan(L *lua.State) int {
	opts := *api.scanOpts
	if L.GetTop() >= 1 && !L.IsNil(1) {
		if !L.IsNumber(1) {
			L.RaiseError("scan(seconds) expects a number")
			return 0
		}
		opts.Duration = time.Duration(L.ToNumber(1) * float64(time.Second))
	}

	reg := registry.New(nil, api.logger)
	devices, err := reg.Scan(api.ctx, &opts, nil)
	if err != nil {
		L.RaiseError(fmt.Sprintf("scan failed: %v", err))
		return 0
	}

	L.NewTable()
	for i, dev := range devices {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		pushStringField(L, "address", dev.Address())
		pushStringField(L, "name", dev.Name())
		L.PushString("rssi")
		L.PushInteger(int64(dev.RSSI()))
		L.SetTable(-3)
		pushStringField(L, "quality", string(dev.Quality()))
		L.SetTable(-3)
	}
	return 1
}

// luaConnect implements bluart.connect(address). The returned table is a
// thin Lua view of a Go-side handle; its methods find the handle through
// the _id field, so scripts can pass the device around freely.
func (api *API) luaConnect(L *lua.State) int {
	if !L.IsString(1) {
		L.RaiseError("connect(address) expects a string")
		return 0
	}
	address := L.ToString(1)

	s := session.New(api.sessionOpts, api.logger)
	if err := s.Connect(api.ctx, address); err != nil {
		s.Close()
		L.RaiseError(fmt.Sprintf("connect %s failed: %v", address, err))
		return 0
	}

	h := &deviceHandle{
		address: address,
		session: s,
		arrived: make(chan struct{}, 1),
	}
	h.start()

	api.mu.Lock()
	api.nextID++
	id := api.nextID
	api.devices[id] = h
	api.mu.Unlock()

	L.NewTable()
	pushStringField(L, "address", address)
	L.PushString("_id")
	L.PushInteger(id)
	L.SetTable(-3)

	L.PushString("send")
	L.PushGoFunction(api.luaSend)
	L.SetTable(-3)

	L.PushString("expect")
	L.PushGoFunction(api.luaExpect)
	L.SetTable(-3)

	L.PushString("close")
	L.PushGoFunction(api.luaClose)
	L.SetTable(-3)

	return 1
}

// luaSend implements device:send(text).
func (api *API) luaSend(L *lua.State) int {
	h := api.handleArg(L)
	if h == nil {
		return 0
	}
	if !L.IsString(2) {
		L.RaiseError("send(text) expects a string")
		return 0
	}

	seq, err := h.session.Send(L.ToString(2))
	if err != nil {
		L.RaiseError(fmt.Sprintf("send failed: %v", err))
		return 0
	}
	L.PushInteger(int64(seq))
	return 1
}

// luaExpect implements device:expect(pattern, [timeout_ms]). On a match
// the line is returned; on timeout the script gets nil and the reason, so
// it can branch instead of dying.
func (api *API) luaExpect(L *lua.State) int {
	h := api.handleArg(L)
	if h == nil {
		return 0
	}
	if !L.IsString(2) {
		L.RaiseError("expect(pattern, timeout_ms) expects a pattern string")
		return 0
	}
	re, err := regexp.Compile(L.ToString(2))
	if err != nil {
		L.RaiseError(fmt.Sprintf("expect pattern: %v", err))
		return 0
	}

	timeout := defaultExpectTimeout
	if L.GetTop() >= 3 && L.IsNumber(3) {
		timeout = time.Duration(L.ToNumber(3)) * time.Millisecond
	}

	line, err := h.expect(api.ctx, re, timeout)
	if err != nil {
		L.PushNil()
		L.PushString(err.Error())
		return 2
	}
	L.PushString(line)
	return 1
}

// luaClose implements device:close().
func (api *API) luaClose(L *lua.State) int {
	h := api.takeHandle(L)
	if h != nil {
		h.session.Close()
	}
	return 0
}

// luaSleep implements bluart.sleep(ms).
func (api *API) luaSleep(L *lua.State) int {
	if !L.IsNumber(1) {
		L.RaiseError("sleep(ms) expects a number")
		return 0
	}
	d := time.Duration(L.ToNumber(1)) * time.Millisecond
	select {
	case <-time.After(d):
	case <-api.ctx.Done():
	}
	return 0
}

// handleArg resolves the device handle of a method call (self at index 1).
// Raises a Lua error and returns nil when the handle is gone.
func (api *API) handleArg(L *lua.State) *deviceHandle {
	id, ok := deviceID(L)
	if !ok {
		L.RaiseError("expected a device (use device:method() syntax)")
		return nil
	}

	api.mu.Lock()
	h := api.devices[id]
	api.mu.Unlock()
	if h == nil {
		L.RaiseError("device is closed")
		return nil
	}
	return h
}

// takeHandle removes and returns the handle of a method call, nil when
// already gone.
func (api *API) takeHandle(L *lua.State) *deviceHandle {
	id, ok := deviceID(L)
	if !ok {
		return nil
	}
	api.mu.Lock()
	h := api.devices[id]
	delete(api.devices, id)
	api.mu.Unlock()
	return h
}

// deviceID reads the _id field of the self table at index 1.
func deviceID(L *lua.State) (int64, bool) {
	if !L.IsTable(1) {
		return 0, false
	}
	L.GetField(1, "_id")
	if !L.IsNumber(-1) {
		L.Pop(1)
		return 0, false
	}
	id := int64(L.ToNumber(-1))
	L.Pop(1)
	return id, true
}

// pushStringField sets table[-1][key] = value.
func pushStringField(L *lua.State, key, value string) {
	L.PushString(key)
	L.PushString(value)
	L.SetTable(-3)
}

// deviceHandle is the Go side of a connected script device: the session
// plus a line buffer expect matches against.
type deviceHandle struct {
	address string
	session *session.Session

	mu      sync.Mutex
	lines   []string
	arrived chan struct{}
}

// start pumps response and unsolicited lines into the buffer until the
// session's exchange stream closes.
func (h *deviceHandle) start() {
	responses := h.session.Responses()
	groutine.Go(nil, "script-device-pump", func(context.Context) {
		for ex := range responses {
			switch ex.Type {
			case uart.ExchangeResolved, uart.ExchangeUnsolicited:
				h.mu.Lock()
				h.lines = append(h.lines, ex.Text)
				h.mu.Unlock()
				select {
				case h.arrived <- struct{}{}:
				default:
				}
			}
		}
	})
}

// expect blocks until a buffered line matches re or the timeout expires.
// The matching line and everything before it are consumed; later lines
// stay buffered for the next expect.
func (h *deviceHandle) expect(ctx context.Context, re *regexp.Regexp, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		h.mu.Lock()
		for i, line := range h.lines {
			if re.MatchString(line) {
				h.lines = h.lines[i+1:]
				h.mu.Unlock()
				return line, nil
			}
		}
		h.mu.Unlock()

		select {
		case <-h.arrived:
		case <-deadline.C:
			return "", fmt.Errorf("no line matching %q within %v", re.String(), timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
