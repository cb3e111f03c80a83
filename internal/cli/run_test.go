package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	return filepath.Join(writeFiles(t, map[string]string{"app.js": src}), "app.js")
}

func TestRun_ResolvedPromise(t *testing.T) {
	script := writeScript(t, `
console.log("starting");
var result = nativeModules.Counter.increment(2).then(function (n) {
  return {count: n, current: nativeModules.Counter.current()};
});
`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--format", "json", script)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.SessionID)

	var got struct {
		Result     map[string]any `json:"result"`
		Console    []string       `json:"console"`
		Exceptions []string       `json:"exceptions"`
	}
	decodeData(t, resp, &got)
	assert.Equal(t, map[string]any{"count": float64(2), "current": float64(2)}, got.Result)
	assert.Equal(t, []string{"starting"}, got.Console)
	assert.Empty(t, got.Exceptions)
}

func TestRun_RejectedPromise(t *testing.T) {
	script := writeScript(t, `var result = nativeModules.Device.vibrate();`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--format", "json", script)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var got RunResult
	decodeData(t, decodeResponse(t, out), &got)
	require.NotNil(t, got.Rejection)
	assert.Equal(t, "E_UNSUPPORTED", got.Rejection.Code)
	assert.Equal(t, "no motor", got.Rejection.Message)
}

func TestRun_CustomGlobal(t *testing.T) {
	script := writeScript(t, `var info = nativeModules.Device.info();`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--global", "info", script)
	require.NoError(t, err)
	assert.Contains(t, out, `result: {"os":"test"}`)
}

func TestRun_ScriptThrows(t *testing.T) {
	script := writeScript(t, `throw new Error("boom");`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--format", "json", script)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeScript, resp.Error.Code)
}

func TestRun_MissingScript(t *testing.T) {
	_, err := execute(t, "run", "--manifests", manifestsDir(t), "/nonexistent/app.js")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_MissingManifests(t *testing.T) {
	script := writeScript(t, `var result = 1;`)

	out, err := execute(t, "run", "--manifests", "/nonexistent/modules", "--format", "json", script)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestRun_Metrics(t *testing.T) {
	script := writeScript(t, `var result = nativeModules.Counter.increment();`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--metrics", "--format", "json", script)
	require.NoError(t, err)

	var got RunResult
	decodeData(t, decodeResponse(t, out), &got)
	assert.NotEmpty(t, got.Metrics)
	for _, m := range got.Metrics {
		assert.Contains(t, m.Name, "tether_")
	}
}

func TestRun_RecordsSession(t *testing.T) {
	db := filepath.Join(t.TempDir(), "diag.db")
	script := writeScript(t, `var result = nativeModules.Counter.increment();`)

	out, err := execute(t, "run", "--manifests", manifestsDir(t), "--db", db, "--format", "json", script)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.NotEmpty(t, resp.SessionID)
}
