package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	req := require.New(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	req.NoError(err)

	req.Equal(8080, cfg.Port)
	req.Equal(54*time.Second, cfg.PingPeriod)
	req.Equal("memory", cfg.Broker.Kind)
	req.Equal([]string{"websocket", "longpolling"}, cfg.Client.Transports)
	req.Equal(500*time.Millisecond, cfg.Client.Reconnect.InitialDelay)
	req.Equal(5, cfg.Client.Reconnect.MaxAttempts)
	req.Equal("ReceiveDoubt", cfg.EventName)
}

func TestLoadFileOverrides(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
port: 9090
poll_timeout: 3s
broker:
  kind: redis
  addr: redis:6379
client:
  base_url: http://hub:9090/api
  transports: [longpolling]
  reconnect:
    max_attempts: 0
    max_delay: 1m
`
	req.NoError(os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path)
	req.NoError(err)
	req.Equal(9090, cfg.Port)
	req.Equal(3*time.Second, cfg.PollTimeout)
	req.Equal("redis", cfg.Broker.Kind)
	req.Equal("redis:6379", cfg.Broker.Addr)
	req.Equal("http://hub:9090/api", cfg.Client.BaseURL)
	req.Equal([]string{"longpolling"}, cfg.Client.Transports)
	req.Zero(cfg.Client.Reconnect.MaxAttempts)
	req.Equal(time.Minute, cfg.Client.Reconnect.MaxDelay)
	req.Equal(2.0, cfg.Client.Reconnect.Multiplier)
}

func TestLoadFileEnvOverlay(t *testing.T) {
	t.Setenv("MEET_PORT", "7070")
	t.Setenv("MEET_CLIENT_SEND_METHOD", "POST")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
	require.Equal(t, "POST", cfg.Client.SendMethod)
}
