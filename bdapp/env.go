package bdapp

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Environment defines the interface that all environment configurations must implement.
// Embed BaseEnvironment in your struct to satisfy this interface.
type Environment interface {
	listenAddr() string
	adminAddr() string
	healthPath() string
	serviceName() string
	logLevel() zapcore.Level
	otelExporter() string
	unitSource() string
	unitDir() string
	unitBucket() string
	unitPrefix() string
	unitBaseURL() string
	unitSuffix() string
	staticDir() string
	execExtensions() []string
	queueSize() int
	pollInterval() time.Duration
	readTimeout() time.Duration
	dispatchTimeout() time.Duration
	preloadUnits() []string
}

// BaseEnvironment contains the environment variables every dispatch service reads.
// Embed this in your custom environment struct.
type BaseEnvironment struct {
	ListenAddr   string        `env:"BD_LISTEN_ADDR" envDefault:":8888"`
	AdminAddr    string        `env:"BD_ADMIN_ADDR" envDefault:":9090"`
	HealthPath   string        `env:"BD_HEALTH_PATH" envDefault:"/health"`
	ServiceName  string        `env:"BD_SERVICE_NAME,required"`
	LogLevel     zapcore.Level `env:"BD_LOG_LEVEL" envDefault:"info"`
	OtelExporter string        `env:"BD_OTEL_EXPORTER" envDefault:"none"`

	// UnitSource selects where unit code is read from: "dir", "s3" or "http".
	UnitSource  string `env:"BD_UNIT_SOURCE" envDefault:"dir"`
	UnitDir     string `env:"BD_UNIT_DIR" envDefault:"./units"`
	UnitBucket  string `env:"BD_UNIT_BUCKET"`
	UnitPrefix  string `env:"BD_UNIT_PREFIX"`
	UnitBaseURL string `env:"BD_UNIT_BASE_URL"`
	UnitSuffix  string `env:"BD_UNIT_SUFFIX" envDefault:".lua"`

	// StaticDir holds the resources served for targets that are not dispatched. Empty serves nothing.
	StaticDir       string        `env:"BD_STATIC_DIR"`
	ExecExtensions  []string      `env:"BD_EXEC_EXTENSIONS" envDefault:".x,.server" envSeparator:","`
	QueueSize       int           `env:"BD_QUEUE_SIZE" envDefault:"1000"`
	PollInterval    time.Duration `env:"BD_POLL_INTERVAL" envDefault:"100ms"`
	ReadTimeout     time.Duration `env:"BD_READ_TIMEOUT" envDefault:"5s"`
	DispatchTimeout time.Duration `env:"BD_DISPATCH_TIMEOUT" envDefault:"30s"`
	PreloadUnits    []string      `env:"BD_PRELOAD_UNITS" envSeparator:","`
}

func (e BaseEnvironment) listenAddr() string             { return e.ListenAddr }
func (e BaseEnvironment) adminAddr() string              { return e.AdminAddr }
func (e BaseEnvironment) healthPath() string             { return e.HealthPath }
func (e BaseEnvironment) serviceName() string            { return e.ServiceName }
func (e BaseEnvironment) logLevel() zapcore.Level        { return e.LogLevel }
func (e BaseEnvironment) otelExporter() string           { return e.OtelExporter }
func (e BaseEnvironment) unitSource() string             { return e.UnitSource }
func (e BaseEnvironment) unitDir() string                { return e.UnitDir }
func (e BaseEnvironment) unitBucket() string             { return e.UnitBucket }
func (e BaseEnvironment) unitPrefix() string             { return e.UnitPrefix }
func (e BaseEnvironment) unitBaseURL() string            { return e.UnitBaseURL }
func (e BaseEnvironment) unitSuffix() string             { return e.UnitSuffix }
func (e BaseEnvironment) staticDir() string              { return e.StaticDir }
func (e BaseEnvironment) execExtensions() []string       { return e.ExecExtensions }
func (e BaseEnvironment) queueSize() int                 { return e.QueueSize }
func (e BaseEnvironment) pollInterval() time.Duration    { return e.PollInterval }
func (e BaseEnvironment) readTimeout() time.Duration     { return e.ReadTimeout }
func (e BaseEnvironment) dispatchTimeout() time.Duration { return e.DispatchTimeout }
func (e BaseEnvironment) preloadUnits() []string         { return e.PreloadUnits }

var _ Environment = BaseEnvironment{}

// ParseEnv parses environment variables into the given Environment type.
func ParseEnv[E Environment]() func() (E, error) {
	return func() (e E, err error) {
		if err := env.Parse(&e); err != nil {
			return e, errors.Wrap(err, "failed to parse environment")
		}
		return e, nil
	}
}
