package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
addr = "statsd.local:9125"
prefix = "app"
dns_server = "10.0.0.2:53"
timeout = "500ms"
max_packet_size = 512
`)

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	require.NoError(t, ApplyFileConfig(&cfg, fc, map[string]bool{"prefix": true}))

	assert.Equal(t, "statsd.local:9125", cfg.Addr)
	assert.Equal(t, "", cfg.Prefix, "explicit flag wins over file")
	assert.Equal(t, "10.0.0.2:53", cfg.DNSServer)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 512, cfg.MaxPacketSize)
}

func TestApplyFileConfigBadTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, ApplyFileConfig(&cfg, FileConfig{Timeout: "soon"}, nil))
}

func TestLoadFileConfigMissing(t *testing.T) {
	_, err := LoadFileConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommands(t *testing.T) {
	inSocket, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer inSocket.Close()

	path := writeConfig(t, `prefix = "app"`)

	run := func(args []string, expected string) func(*testing.T) {
		return func(t *testing.T) {
			cmd := newRootCmd(zerolog.Nop())
			cmd.SetArgs(append([]string{"--config", path, "--addr", inSocket.LocalAddr().String()}, args...))
			require.NoError(t, cmd.Execute())

			require.NoError(t, inSocket.SetReadDeadline(time.Now().Add(time.Second)))
			buf := make([]byte, 1500)
			n, err := inSocket.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, expected, string(buf[:n]))
		}
	}

	t.Run("Counter", run([]string{"counter", "hello", "10"}, "app.hello:10|c"))
	t.Run("Gauge", run([]string{"gauge", "hello", "bar"}, "app.hello:bar|g"))
	t.Run("Timing", run([]string{"timing", "foo", "42"}, "app.foo:42|ms"))

	t.Run("BadDelta", func(t *testing.T) {
		cmd := newRootCmd(zerolog.Nop())
		cmd.SetArgs([]string{"--config", path, "counter", "hello", "many"})
		assert.Error(t, cmd.Execute())
	})

	t.Run("MissingConfig", func(t *testing.T) {
		cmd := newRootCmd(zerolog.Nop())
		cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.toml"), "counter", "hello", "1"})
		assert.Error(t, cmd.Execute())
	})
}
