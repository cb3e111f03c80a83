package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterManifest = `module: Counter: {
	constants: label: "clicks"
	methods: {
		increment: {convention: "promise", arity: 1, optional: 1, behavior: "increment", limit: 3}
		current: {convention: "sync", behavior: "read", key: "increment"}
		log: {arity: 1, behavior: "echo"}
	}
}
`

const deviceManifest = `module: Device: {
	methods: {
		info: {convention: "sync", behavior: "return", value: {os: "test"}}
		vibrate: {convention: "promise", behavior: "reject", code: "E_UNSUPPORTED", message: "no motor"}
	}
}
`

// writeFiles creates files (relative name -> content) under a temp dir
// and returns the dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// manifestsDir writes the counter and device manifests.
func manifestsDir(t *testing.T) string {
	t.Helper()
	return writeFiles(t, map[string]string{
		"counter.cue": counterManifest,
		"device.cue":  deviceManifest,
	})
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeResponse parses a JSON CLI response.
func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// decodeData re-decodes resp.Data into v.
func decodeData(t *testing.T, resp CLIResponse, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}
