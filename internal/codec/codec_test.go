package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/ir"
)

func TestCodecs_ArgsRoundTrip(t *testing.T) {
	args := ir.Array{
		ir.Int(7),
		ir.String("label"),
		ir.Float(0.25),
		ir.Null{},
		ir.Object{"nested": ir.Array{ir.Bool(true)}},
	}

	for _, c := range []Codec{JSON{}, Proto{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.EncodeArgs(args)
			require.NoError(t, err)

			back, err := c.DecodeArgs(data)
			require.NoError(t, err)
			assert.True(t, ir.Equal(args, back), "got %v", back)
		})
	}
}

func TestCodecs_EmptyArgs(t *testing.T) {
	for _, c := range []Codec{JSON{}, Proto{}} {
		t.Run(c.Name(), func(t *testing.T) {
			back, err := c.DecodeArgs(nil)
			require.NoError(t, err)
			assert.Empty(t, back)
		})
	}
}

func TestCodecs_ValueRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON{}, Proto{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.EncodeValue(ir.Object{"count": ir.Int(1)})
			require.NoError(t, err)

			back, err := c.DecodeValue(data)
			require.NoError(t, err)
			assert.True(t, ir.Equal(ir.Object{"count": ir.Int(1)}, back))
		})
	}
}

func TestJSON_DecodeArgsRejectsObject(t *testing.T) {
	_, err := JSON{}.DecodeArgs([]byte(`{"a":1}`))
	assert.Error(t, err)
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, NameJSON, c.Name())

	c, err = ByName("proto")
	require.NoError(t, err)
	assert.Equal(t, NameProto, c.Name())

	_, err = ByName("msgpack")
	assert.Error(t, err)
}
