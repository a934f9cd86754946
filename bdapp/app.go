package bdapp

import (
	"context"
	"net/http"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/luaunit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App for lifecycle management.
type App struct {
	app *fx.App
}

// AppConfig holds configuration for the app.
type AppConfig struct {
	AdminConfig
	ServiceConfig
	FxOptions []fx.Option
}

// Option configures the App.
type Option func(*AppConfig)

// WithFx adds fx options for dependency injection.
func WithFx(fxOpts ...fx.Option) Option {
	return func(c *AppConfig) {
		c.FxOptions = append(c.FxOptions, fxOpts...)
	}
}

// WithHealthHandler sets a custom health check handler.
// If not set, a default handler is used that returns 200 OK while the service is running.
func WithHealthHandler(h func(http.ResponseWriter, *http.Request)) Option {
	return func(c *AppConfig) {
		c.HealthHandler = h
	}
}

// WithSource sets the unit source, instead of the one selected by BD_UNIT_SOURCE.
func WithSource(src luaunit.Source) Option {
	return func(c *AppConfig) {
		c.Source = src
	}
}

// WithMiddleware adds middleware that wraps every unit's handler.
func WithMiddleware(mw ...bdispatch.Middleware) Option {
	return func(c *AppConfig) {
		c.Middleware = append(c.Middleware, mw...)
	}
}

// WithDispatchOptions adds options for the dispatcher.
func WithDispatchOptions(opts ...bdispatch.Option) Option {
	return func(c *AppConfig) {
		c.DispatchOptions = append(c.DispatchOptions, opts...)
	}
}

// FxOptions returns the fx options that make up the app's DI graph.
func FxOptions[E Environment](opts ...Option) []fx.Option {
	var cfg AppConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	baseOpts := make([]fx.Option, 0, 17+len(cfg.FxOptions))
	baseOpts = append(baseOpts, []fx.Option{
		fx.NopLogger,
		fx.Provide(ParseEnv[E]()),
		fx.Provide(func(e E) Environment { return e }),
		fx.Provide(func(e E) (*zap.Logger, error) { return NewLogger(e) }),
		fx.Provide(NewMetrics),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewPropagator),
		fx.Provide(NewHTTPTransport),
		fx.Provide(provideAWSConfig),
		fx.Provide(provideS3Client),
		fx.Supply(cfg.ServiceConfig),
		fx.Supply(cfg.AdminConfig),
		fx.Provide(NewSource),
		fx.Provide(NewService),
		fx.Provide(NewAdminServer),
		fx.Invoke(startServiceHook),
		fx.Invoke(startAdminHook),
	}...)

	return append(baseOpts, cfg.FxOptions...)
}

// NewApp creates a batteries-included dispatch service with dependency injection.
//
// Example:
//
//	bdapp.NewApp[bdapp.BaseEnvironment](
//	    bdapp.WithMiddleware(auth),
//	).Run()
func NewApp[E Environment](opts ...Option) *App {
	return &App{
		app: fx.New(FxOptions[E](opts...)...),
	}
}

// Err returns the error of building the app, if any.
func (a *App) Err() error {
	return a.app.Err()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application with the given context and stops it once ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}
