package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/bridge"
	"github.com/roach88/tether/internal/codec"
	"github.com/roach88/tether/internal/module"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, module.Reject, cfg.DuplicatePolicy())
	assert.Equal(t, bridge.Ignore, cfg.DoubleSettlePolicy())
	assert.Equal(t, codec.NameJSON, cfg.Codec().Name())
	assert.Equal(t, "tether", cfg.Metrics.Namespace)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[bridge]
duplicate_policy = "overwrite"
double_settle = "report"
codec = "proto"

[events]
beat_interval = "16ms"

[store]
path = "trace.db"

[capability]
runtime_version = "0.4.0"
abi = "v2"
features = ["sync-methods"]
`))
	require.NoError(t, err)

	assert.Equal(t, module.Overwrite, cfg.DuplicatePolicy())
	assert.Equal(t, bridge.Report, cfg.DoubleSettlePolicy())
	assert.Equal(t, codec.NameProto, cfg.Codec().Name())
	assert.Equal(t, 16*time.Millisecond, time.Duration(cfg.Events.BeatInterval))
	assert.Equal(t, "trace.db", cfg.Store.Path)
	assert.True(t, cfg.Capability.Has("sync-methods"))
	assert.Equal(t, "v2", cfg.Capability.ABI)

	// untouched sections keep their defaults
	assert.Equal(t, 16, cfg.Invoker.LaneCapacity)
	assert.Equal(t, "modules", cfg.Manifests.Dir)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[bridge]\nduplicate = \"reject\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestParse_ValidationErrors(t *testing.T) {
	_, err := Parse([]byte(`
[bridge]
duplicate_policy = "merge"
codec = "xml"

[invoker]
lane_capacity = -1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge.duplicate_policy")
	assert.Contains(t, err.Error(), "bridge.codec")
	assert.Contains(t, err.Error(), "invoker.lane_capacity")
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("[events]\nbeat_interval = \"soon\"\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RoundTrip(t *testing.T) {
	want := Default()
	want.Bridge.DoubleSettle = "report"
	want.Events.BeatInterval = Duration(8 * time.Millisecond)
	want.Capability.Features = []string{"promises"}

	data, err := Marshal(want)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
