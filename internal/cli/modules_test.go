package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/module"
)

func TestModules_JSON(t *testing.T) {
	out, err := execute(t, "modules", manifestsDir(t), "--format", "json")
	require.NoError(t, err)

	var stub StubTable
	decodeData(t, decodeResponse(t, out), &stub)
	assert.Len(t, stub.Fingerprint, 64)
	table := stub.Modules
	require.Len(t, table, 2)

	// Files load in name order, so ids follow counter.cue then device.cue.
	assert.Equal(t, 0, table[0].ID)
	assert.Equal(t, "Counter", table[0].Name)
	require.Len(t, table[0].Methods, 3)
	assert.Equal(t, "increment", table[0].Methods[0].Name)
	assert.Equal(t, module.ConventionPromise, table[0].Methods[0].Convention)
	assert.Equal(t, 1, table[0].Methods[0].Optional)

	assert.Equal(t, 1, table[1].ID)
	assert.Equal(t, "Device", table[1].Name)
}

func TestModules_Text(t *testing.T) {
	out, err := execute(t, "modules", manifestsDir(t))
	require.NoError(t, err)

	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "0:Counter")
	assert.Contains(t, out, "0:increment")
	assert.Contains(t, out, "0-1")
	assert.Contains(t, out, `Counter constants: {"label":"clicks"}`)
	assert.Contains(t, out, "fingerprint: ")
}

func TestModules_FingerprintTracksTable(t *testing.T) {
	fingerprint := func(dir string) string {
		out, err := execute(t, "modules", dir, "--format", "json")
		require.NoError(t, err)
		var stub StubTable
		decodeData(t, decodeResponse(t, out), &stub)
		return stub.Fingerprint
	}

	a := fingerprint(manifestsDir(t))
	assert.Equal(t, a, fingerprint(manifestsDir(t)), "same manifests, same fingerprint")

	changed := writeFiles(t, map[string]string{
		"counter.cue": strings.Replace(counterManifest, `label: "clicks"`, `label: "taps"`, 1),
		"device.cue":  deviceManifest,
	})
	assert.NotEqual(t, a, fingerprint(changed))
}
