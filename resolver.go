package bdispatch

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// DefaultUnitSuffix is appended to names derived from request targets.
const DefaultUnitSuffix = ".lua"

// Resolver maps a request target onto a loaded unit.
type Resolver interface {
	Resolve(ctx context.Context, target string) (*Unit, error)
}

// UnitName derives the unit name for a request target: the query is dropped, as are leading slashes and the
// extension of the last path segment, after which suffix is appended. The empty path resolves to "index".
func UnitName(target, suffix string) string {
	p, _, _ := strings.Cut(target, "?")
	p = strings.TrimLeft(p, "/")
	p = strings.TrimSuffix(p, path.Ext(p))
	if p == "" {
		p = "index"
	}
	return p + suffix
}

// Cache is a [Resolver] that loads every unit at most once. Successfully loaded units, including units that turned
// out not to be invocable, are kept for the lifetime of the cache. Failed loads are not kept, the next request for
// the same name tries again. Concurrent first loads of one name share a single call to the [Loader].
type Cache struct {
	loader Loader
	suffix string

	mu    sync.RWMutex
	units map[string]*Unit
	group singleflight.Group
}

// NewCache inits a cache around loader. An empty suffix means [DefaultUnitSuffix].
func NewCache(loader Loader, suffix string) *Cache {
	if suffix == "" {
		suffix = DefaultUnitSuffix
	}
	return &Cache{loader: loader, suffix: suffix, units: make(map[string]*Unit)}
}

// Suffix returns the unit suffix names are derived with.
func (c *Cache) Suffix() string { return c.suffix }

// Resolve implements [Resolver].
func (c *Cache) Resolve(ctx context.Context, target string) (*Unit, error) {
	return c.ResolveName(ctx, UnitName(target, c.suffix))
}

// ResolveName resolves a unit by its full name.
func (c *Cache) ResolveName(ctx context.Context, name string) (*Unit, error) {
	c.mu.RLock()
	unit, ok := c.units[name]
	c.mu.RUnlock()
	if ok {
		return unit, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		c.mu.RLock()
		unit, ok := c.units[name]
		c.mu.RUnlock()
		if ok {
			return unit, nil
		}

		unit, err := c.load(ctx, name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.units[name] = unit
		c.mu.Unlock()
		return unit, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Unit), nil //nolint:forcetypeassert
}

// Preload resolves each name and returns the failures joined. Units that did load stay cached.
func (c *Cache) Preload(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range lo.Uniq(names) {
		if _, err := c.ResolveName(ctx, name); err != nil {
			errs = append(errs, errors.Wrapf(err, "preload %q", name))
		}
	}
	return errors.Join(errs...)
}

// Forget drops a cached unit so that the next resolve loads it again.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.units, name)
}

// Names returns the names of all cached units, sorted.
func (c *Cache) Names() []string {
	c.mu.RLock()
	names := lo.Keys(c.units)
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (c *Cache) load(ctx context.Context, name string) (unit *Unit, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = resolutionError(errors.Wrapf(recovered(p), "load %q", name))
		}
	}()

	v, err := c.loader.Load(ctx, name)
	if err != nil {
		if KindOf(err) != KindUnknown {
			return nil, err
		}
		return nil, resolutionError(err)
	}

	if msg, ok := v.(string); ok {
		return nil, resolutionError(errors.New(msg))
	}

	return ClassifyUnit(name, v), nil
}
