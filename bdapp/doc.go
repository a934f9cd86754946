// Package bdapp provides a batteries-included runtime for a dispatch service: a TCP host that answers static
// resources and dispatches executable targets to Lua units, with structured logging, metrics, tracing and an admin
// server, all wired with go.uber.org/fx.
//
// # Quick Start
//
//	func main() {
//	    bdapp.NewApp[bdapp.BaseEnvironment]().Run()
//	}
//
// # Environment Variables
//
// Configuration is read with github.com/caarlos0/env/v11. Embed [BaseEnvironment] to add variables of your own:
//
//	type Env struct {
//	    bdapp.BaseEnvironment
//	    Realm string `env:"REALM,required"`
//	}
//
//	bdapp.NewApp[Env]().Run()
//
// Base variables:
//
//	BD_SERVICE_NAME      required, names the service in logs and traces
//	BD_LISTEN_ADDR       host address, default ":8888"
//	BD_ADMIN_ADDR        admin server address, default ":9090"
//	BD_HEALTH_PATH       admin health check path, default "/health"
//	BD_LOG_LEVEL         zap level, default "info"
//	BD_OTEL_EXPORTER     "none" (default) or "stdout"
//	BD_UNIT_SOURCE       "dir" (default), "s3" or "http"
//	BD_UNIT_DIR          directory of the dir source, default "./units"
//	BD_UNIT_BUCKET       bucket of the s3 source
//	BD_UNIT_PREFIX       key prefix of the s3 source
//	BD_UNIT_BASE_URL     base URL of the http source
//	BD_UNIT_SUFFIX       appended to derived unit names, default ".lua"
//	BD_STATIC_DIR        static resources, empty serves none
//	BD_EXEC_EXTENSIONS   dispatched target extensions, default ".x,.server"
//	BD_QUEUE_SIZE        intake queue capacity, default 1000
//	BD_POLL_INTERVAL     intake pull timeout, default "100ms"
//	BD_READ_TIMEOUT      request head read timeout, default "5s"
//	BD_DISPATCH_TIMEOUT  deadline of a dispatch and its deferred result, default "30s"
//	BD_PRELOAD_UNITS     comma separated unit names loaded at start
//
// # Logging
//
// Handlers written in Go can log with the request's fields through [Log]:
//
//	bdapp.Log(ctx).Info("looked up user", zap.String("user", id))
//
// # Admin Server
//
// The admin server serves prometheus metrics on /metrics, the names of the loaded units on /units and a health
// check that reports 200 OK while the service is running.
package bdapp
