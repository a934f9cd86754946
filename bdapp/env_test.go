package bdapp_test

import (
	"testing"
	"time"

	"github.com/advdv/bdispatch/bdapp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type customEnv struct {
	bdapp.BaseEnvironment
	Realm string `env:"REALM,required"`
}

func TestParseEnvDefaults(t *testing.T) {
	t.Setenv("BD_SERVICE_NAME", "svc")

	env, err := bdapp.ParseEnv[bdapp.BaseEnvironment]()()
	require.NoError(t, err)
	require.Equal(t, "svc", env.ServiceName)
	require.Equal(t, ":8888", env.ListenAddr)
	require.Equal(t, ":9090", env.AdminAddr)
	require.Equal(t, "/health", env.HealthPath)
	require.Equal(t, zapcore.InfoLevel, env.LogLevel)
	require.Equal(t, "none", env.OtelExporter)
	require.Equal(t, "dir", env.UnitSource)
	require.Equal(t, "./units", env.UnitDir)
	require.Equal(t, ".lua", env.UnitSuffix)
	require.Empty(t, env.StaticDir)
	require.Equal(t, []string{".x", ".server"}, env.ExecExtensions)
	require.Equal(t, 1000, env.QueueSize)
	require.Equal(t, 100*time.Millisecond, env.PollInterval)
	require.Equal(t, 5*time.Second, env.ReadTimeout)
	require.Equal(t, 30*time.Second, env.DispatchTimeout)
	require.Empty(t, env.PreloadUnits)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("BD_SERVICE_NAME", "svc")
	t.Setenv("BD_LOG_LEVEL", "debug")
	t.Setenv("BD_EXEC_EXTENSIONS", ".lx")
	t.Setenv("BD_PRELOAD_UNITS", "index.lua,api/users.lua")
	t.Setenv("BD_POLL_INTERVAL", "1s")
	t.Setenv("REALM", "test")

	env, err := bdapp.ParseEnv[customEnv]()()
	require.NoError(t, err)
	require.Equal(t, "test", env.Realm)
	require.Equal(t, zapcore.DebugLevel, env.LogLevel)
	require.Equal(t, []string{".lx"}, env.ExecExtensions)
	require.Equal(t, []string{"index.lua", "api/users.lua"}, env.PreloadUnits)
	require.Equal(t, time.Second, env.PollInterval)
}

func TestParseEnvRequired(t *testing.T) {
	t.Setenv("BD_SERVICE_NAME", "svc")

	_, err := bdapp.ParseEnv[customEnv]()()
	require.ErrorContains(t, err, "failed to parse environment")
	require.ErrorContains(t, err, "REALM")
}
