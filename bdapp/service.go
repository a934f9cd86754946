package bdapp

import (
	"context"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/host"
	"github.com/advdv/bdispatch/luaunit"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ServiceConfig holds optional configuration for the dispatch service.
type ServiceConfig struct {
	// Source overrides the unit source that is selected by BD_UNIT_SOURCE.
	Source luaunit.Source
	// Middleware wraps every handler, in addition to the request logger and the dispatch timeout.
	Middleware []bdispatch.Middleware
	// DispatchOptions are passed to the dispatcher after the options for tracing and metrics.
	DispatchOptions []bdispatch.Option
}

// NewSource selects the unit source from the environment.
func NewSource(env Environment, cfg ServiceConfig, s3c *s3.Client, rt http.RoundTripper) (luaunit.Source, error) {
	if cfg.Source != nil {
		return cfg.Source, nil
	}

	switch env.unitSource() {
	case "dir", "":
		return luaunit.NewDirSource(env.unitDir()), nil
	case "s3":
		if env.unitBucket() == "" {
			return nil, errors.New("BD_UNIT_BUCKET is required for the s3 unit source")
		}
		return luaunit.NewS3Source(s3c, env.unitBucket(), env.unitPrefix()), nil
	case "http":
		if env.unitBaseURL() == "" {
			return nil, errors.New("BD_UNIT_BASE_URL is required for the http unit source")
		}
		return luaunit.NewHTTPSource(env.unitBaseURL(), rt), nil
	default:
		return nil, errors.Newf("unsupported BD_UNIT_SOURCE: %q (supported: dir, s3, http)", env.unitSource())
	}
}

// ServiceParams holds the dependencies for creating the dispatch service.
type ServiceParams struct {
	fx.In

	Env        Environment
	Logger     *zap.Logger
	Metrics    *Metrics
	TracerProv trace.TracerProvider
	Source     luaunit.Source
}

// Service runs the host, the intake loop and the dispatcher over Lua units.
type Service struct {
	env  Environment
	logs *zap.Logger

	host   *host.Host
	loader *luaunit.Loader
	cache  *bdispatch.Cache
	disp   *bdispatch.Dispatcher
	loop   *bdispatch.Loop

	running   atomic.Bool
	stopServe context.CancelFunc
	stopLoop  context.CancelFunc
	served    chan error
	looped    chan error
}

// NewService wires the service, it does not listen yet.
func NewService(params ServiceParams, cfg ServiceConfig) *Service {
	env, logs := params.Env, params.Logger

	var static fs.FS
	if dir := env.staticDir(); dir != "" {
		static = os.DirFS(dir)
	}

	svc := &Service{
		env:  env,
		logs: logs,
		host: host.New(host.Config{
			Addr:           env.listenAddr(),
			Static:         static,
			ExecExtensions: env.execExtensions(),
			QueueSize:      env.queueSize(),
			PollInterval:   env.pollInterval(),
			ReadTimeout:    env.readTimeout(),
		}, logs),
		loader: luaunit.NewLoader(params.Source, luaunit.Config{Suffix: env.unitSuffix()}, logs),
	}

	dlogs := NewZapLogger(logs, params.Metrics)
	svc.cache = bdispatch.NewCache(svc.loader, env.unitSuffix())
	svc.disp = bdispatch.NewDispatcher(svc.cache, dlogs, append([]bdispatch.Option{
		bdispatch.WithTracerProvider(params.TracerProv),
		bdispatch.WithOutcomeFunc(params.Metrics.ObserveOutcome),
		bdispatch.WithInFlightFunc(params.Metrics.AddInFlight),
	}, cfg.DispatchOptions...)...)

	svc.disp.Use(withRequestLogger(logs.Named("dispatch")), withDispatchTimeout(env.dispatchTimeout()))
	svc.disp.Use(cfg.Middleware...)

	svc.loop = bdispatch.NewLoop(svc.host, svc.disp, dlogs)
	return svc
}

// Start listens and starts serving. Units listed in BD_PRELOAD_UNITS are loaded in the background, failures are
// logged.
func (s *Service) Start(ctx context.Context) error {
	if err := s.host.Listen(ctx); err != nil {
		return err
	}

	serveCtx, stopServe := context.WithCancel(context.Background())
	loopCtx, stopLoop := context.WithCancel(context.Background())
	s.stopServe, s.stopLoop = stopServe, stopLoop
	s.served, s.looped = make(chan error, 1), make(chan error, 1)

	go func() { s.served <- s.host.Serve(serveCtx) }()
	go func() { s.looped <- s.loop.Run(loopCtx) }()

	if names := s.env.preloadUnits(); len(names) > 0 {
		go func() {
			if err := s.cache.Preload(loopCtx, names...); err != nil {
				s.logs.Warn("failed to preload units", zap.Error(err))
			}
		}()
	}

	s.running.Store(true)
	s.logs.Info("started dispatch service", zap.Stringer("addr", s.host.Addr()))
	return nil
}

// Stop stops accepting connections and lets the loop dispatch what was already queued. If ctx is done before the
// queue is drained, the loop is stopped as well and the connections that are left are closed without a reply.
func (s *Service) Stop(ctx context.Context) error {
	s.running.Store(false)
	s.logs.Info("stopping dispatch service")

	s.stopServe()
	serveErr := <-s.served

	var loopErr error
	select {
	case loopErr = <-s.looped:
	case <-ctx.Done():
		s.stopLoop()
		loopErr = <-s.looped
		if n := s.host.CloseAll(); n > 0 {
			s.logs.Warn("closed connections that were not answered before the stop deadline", zap.Int("conns", n))
		}
	}
	s.stopLoop()

	return errors.Join(serveErr, loopErr, s.loader.Close())
}

// Running reports whether the service was started and not stopped.
func (s *Service) Running() bool { return s.running.Load() }

// Addr returns the address the host listens on.
func (s *Service) Addr() net.Addr { return s.host.Addr() }

// Units returns the names of the units that are loaded.
func (s *Service) Units() []string { return s.cache.Names() }

func startServiceHook(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: svc.Start,
		OnStop:  svc.Stop,
	})
}
