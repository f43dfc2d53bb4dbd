package main

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaizki/ouman2mqtt/examples"
	"github.com/vaizki/ouman2mqtt/internal/config"
)

// clearUmask makes file permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_WritesExample(t *testing.T) {
	clearUmask(t)
	path := filepath.Join(t.TempDir(), "etc", "ouman2mqtt", "config.yaml")
	var buf bytes.Buffer

	require.NoError(t, runInit(&buf, path))
	assert.Contains(t, buf.String(), "wrote "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, examples.ConfigYAML, data)
}

func TestRunInit_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mine"), 0o600))
	var buf bytes.Buffer

	require.NoError(t, runInit(&buf, path))
	assert.Contains(t, buf.String(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))
}

func TestExampleConfig_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, examples.ConfigYAML, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.Default().MQTT.Topic, cfg.MQTT.Topic)
	assert.True(t, cfg.MQTT.WillEnabled())
	secs, include := cfg.ExpireAfterSeconds()
	assert.True(t, include)
	assert.Equal(t, 46, secs)
}

func TestInitCommand_DefaultPath(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	err := newCommand(&out, &errOut, nil).Run(t.Context(), []string{"ouman2mqtt", "init"})
	require.NoError(t, err)
	_, err = os.Stat(defaultInitPath)
	assert.NoError(t, err)
}
