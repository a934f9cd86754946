package bdapptest

import (
	"testing"
)

// Env provides a chainable builder for setting [bdapp.BaseEnvironment] env vars
// via t.Setenv. Create one with [SetBaseEnv].
type Env struct {
	t testing.TB
}

// SetBaseEnv sets all [bdapp.BaseEnvironment] env vars to sensible test defaults.
// Both servers listen on a random local port.
//
// Defaults:
//   - BD_SERVICE_NAME: "test"
//   - BD_LISTEN_ADDR: "127.0.0.1:0"
//   - BD_ADMIN_ADDR: "127.0.0.1:0"
//   - BD_POLL_INTERVAL: "10ms"
//   - BD_OTEL_EXPORTER: "none"
//   - AWS_REGION: "us-east-1"
//   - AWS_ACCESS_KEY_ID: "test"
//   - AWS_SECRET_ACCESS_KEY: "test"
//
// Use the returned [Env] to override individual values:
//
//	bdapptest.SetBaseEnv(t).UnitDir(dir).PreloadUnits("index.lua")
func SetBaseEnv(t testing.TB) *Env {
	t.Helper()
	t.Setenv("BD_SERVICE_NAME", "test")
	t.Setenv("BD_LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("BD_ADMIN_ADDR", "127.0.0.1:0")
	t.Setenv("BD_POLL_INTERVAL", "10ms")
	t.Setenv("BD_OTEL_EXPORTER", "none")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	return &Env{t: t}
}

// ServiceName overrides BD_SERVICE_NAME.
func (e *Env) ServiceName(name string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_SERVICE_NAME", name)
	return e
}

// UnitDir overrides BD_UNIT_DIR.
func (e *Env) UnitDir(dir string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_UNIT_DIR", dir)
	return e
}

// StaticDir overrides BD_STATIC_DIR.
func (e *Env) StaticDir(dir string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_STATIC_DIR", dir)
	return e
}

// UnitSource overrides BD_UNIT_SOURCE.
func (e *Env) UnitSource(source string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_UNIT_SOURCE", source)
	return e
}

// PreloadUnits overrides BD_PRELOAD_UNITS.
func (e *Env) PreloadUnits(names string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_PRELOAD_UNITS", names)
	return e
}

// OtelExporter overrides BD_OTEL_EXPORTER.
func (e *Env) OtelExporter(exporter string) *Env {
	e.t.Helper()
	e.t.Setenv("BD_OTEL_EXPORTER", exporter)
	return e
}
