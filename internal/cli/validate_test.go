package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", manifestsDir(t), "--format", "json")
	require.NoError(t, err)

	var got ValidationResult
	decodeData(t, decodeResponse(t, out), &got)
	assert.True(t, got.Valid)
	assert.Equal(t, 2, got.Files)
	assert.Equal(t, 2, got.Modules)
	assert.Equal(t, 5, got.Methods)
	assert.Empty(t, got.Errors)
}

func TestValidate_TextOutput(t *testing.T) {
	out, err := execute(t, "validate", manifestsDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "2 modules, 5 methods in 2 files")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.cue": `module: Broken: methods: ping: {convention: "async"}
module: Other: methods: pong: {behavior: "unknown"}
module: Fine: methods: ping: {behavior: "return"}
`,
	})

	out, err := execute(t, "validate", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var got ValidationResult
	decodeData(t, decodeResponse(t, out), &got)
	assert.False(t, got.Valid)
	assert.Len(t, got.Errors, 2)
	for _, e := range got.Errors {
		assert.Equal(t, ErrCodeManifest, e.Code)
	}
}

func TestValidate_NoCUEFiles(t *testing.T) {
	out, err := execute(t, "validate", t.TempDir(), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNoFiles, resp.Error.Code)
}

func TestValidate_DirectoryNotFound(t *testing.T) {
	out, err := execute(t, "validate", "/nonexistent/modules", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestValidate_SyntaxError(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": "module: Counter: {\n"})

	out, err := execute(t, "validate", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var got ValidationResult
	decodeData(t, decodeResponse(t, out), &got)
	assert.False(t, got.Valid)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, ErrCodeManifest, got.Errors[0].Code)
}
