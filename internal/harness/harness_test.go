package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"counter_increment", "mount_events", "promise_settlement"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	sc := loadScenario(t, "counter_increment")
	sc.Steps[0].Expect = &Expect{Result: 42}
	sc.Assertions = append(sc.Assertions, Assertion{Type: AssertCallCount, Method: "Counter.current", Count: intPtr(7)})

	result, err := Run(context.Background(), sc)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected result 42, got 1")
	assert.Contains(t, result.Errors[1], "Counter.current called 7 times")
}

func TestRun_UnknownManifestDirectory(t *testing.T) {
	sc := loadScenario(t, "counter_increment")
	sc.Manifests = "does-not-exist"

	_, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load manifests")
}

func TestRun_InvalidConfig(t *testing.T) {
	sc := loadScenario(t, "counter_increment")
	sc.Config = "[bridge]\ncodec = \"xml\"\n"

	_, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario config")
}

func TestRun_ProtoCodecProducesSameTrace(t *testing.T) {
	jsonRun, err := Run(context.Background(), loadScenario(t, "counter_increment"))
	require.NoError(t, err)

	sc := loadScenario(t, "counter_increment")
	sc.Config = "[bridge]\ncodec = \"proto\"\n"
	protoRun, err := Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, protoRun.Pass, "errors: %v", protoRun.Errors)

	a, err := Snapshot(jsonRun).MarshalCanonical()
	require.NoError(t, err)
	b, err := Snapshot(protoRun).MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	da, err := Snapshot(jsonRun).Digest()
	require.NoError(t, err)
	db, err := Snapshot(protoRun).Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func intPtr(n int) *int { return &n }
