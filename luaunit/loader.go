// Package luaunit loads handler units written in Lua. A unit is a script that returns either a function, which is
// the unit's handler, or a table that holds the handler under "default". Handlers are called with a request and a
// response object:
//
//	return function(req, res)
//	    res:set_header("x-user", req:query().user or "")
//	    res:send(json.set("{}", "method", req:method()))
//	end
//
// A handler that returns a function hands completion over to deferred work: the returned function is called with
// the same arguments after the handler returned, and must send the response itself.
//
// Every unit runs in its own Lua state. Calls into one unit are serialized, calls into different units run
// concurrently. A handler call that finds its unit busy continues as deferred work instead of waiting.
package luaunit

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/advdv/bdispatch"
	"github.com/cockroachdb/errors"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds a single call into a unit.
const DefaultCallTimeout = 5 * time.Second

// Config configures the loader.
type Config struct {
	// Suffix is appended to include names that have no extension. Empty means [bdispatch.DefaultUnitSuffix].
	Suffix string
	// CallTimeout bounds loading a unit and every call into it. Zero means [DefaultCallTimeout].
	CallTimeout time.Duration
}

// Loader implements [bdispatch.Loader] for Lua units.
type Loader struct {
	src  Source
	cfg  Config
	logs *zap.Logger

	mu     sync.Mutex
	units  []*unit
	closed bool
}

// NewLoader inits a loader that reads unit code from src.
func NewLoader(src Source, cfg Config, logs *zap.Logger) *Loader {
	if cfg.Suffix == "" {
		cfg.Suffix = bdispatch.DefaultUnitSuffix
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Loader{src: src, cfg: cfg, logs: logs.Named("luaunit")}
}

// Load implements [bdispatch.Loader]. The unit's script is executed once, its return value is what is classified:
// a function becomes a handler, a table becomes exports. A script that returns a string reports a resolution
// error with that message.
func (l *Loader) Load(ctx context.Context, name string) (any, error) {
	code, err := l.read(ctx, name)
	if err != nil {
		return nil, err
	}

	u, err := newUnit(name, l)
	if err != nil {
		return nil, errors.Wrapf(err, "init state for %q", name)
	}

	ret, err := u.run(ctx, name, code)
	if err != nil {
		u.close()
		return nil, err
	}

	exported := u.export(ret)
	switch ret.(type) {
	case *lua.LFunction, *lua.LTable:
	default:
		// nothing refers to the state, a string result is not even cached and is loaded again.
		u.close()
		return exported, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		u.close()
		return nil, errors.New("loader is closed")
	}
	l.units = append(l.units, u)

	return exported, nil
}

// Close releases the Lua states of all loaded units. Units that are still cached must not be called afterwards.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, u := range l.units {
		u.close()
	}
	l.units, l.closed = nil, true
	return nil
}

func (l *Loader) read(ctx context.Context, name string) ([]byte, error) {
	code, err := l.src.ReadUnit(ctx, name)
	if errors.Is(err, ErrNotFound) {
		l.logs.Debug("unit not found", zap.String("unit", name), zap.Error(err))
		return nil, errors.Newf("cannot find module '%s'", name)
	} else if err != nil {
		return nil, errors.Wrapf(err, "load module '%s'", name)
	}
	return code, nil
}

func (l *Loader) includeName(name string) string {
	if path.Ext(name) == "" {
		return name + l.cfg.Suffix
	}
	return name
}
