// Package bdapptest provides test helpers for bdapp applications.
//
// It constructs the identical DI graph as [bdapp.NewApp] but uses
// [fxtest.App] which fails the test immediately on DI errors. The
// logger is replaced by one that writes to the test log.
//
// Example:
//
//	bdapptest.SetBaseEnv(t).UnitDir(dir)
//	app := bdapptest.New[bdapp.BaseEnvironment](t, bdapp.WithFx(fx.Populate(&svc)))
//	app.RequireStart()
//	t.Cleanup(app.RequireStop)
package bdapptest

import (
	"testing"

	"github.com/advdv/bdispatch/bdapp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// App embeds *fxtest.App for testing bdapp applications.
type App struct {
	*fxtest.App
}

// New creates a test app with the same DI graph as [bdapp.NewApp].
func New[E bdapp.Environment](t testing.TB, opts ...bdapp.Option) *App {
	opts = append(opts, bdapp.WithFx(fx.Decorate(func(*zap.Logger) *zap.Logger {
		return zaptest.NewLogger(t)
	})))
	return &App{App: fxtest.New(t, bdapp.FxOptions[E](opts...)...)}
}
