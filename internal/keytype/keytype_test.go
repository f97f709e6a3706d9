package keytype

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, s := range []string{"string", "int64", "float64", "time"} {
		kt, err := Parse(s)
		require.NoError(t, err)
		assert.True(t, kt.Valid())
	}

	_, err := Parse("uuid")
	assert.Error(t, err)
	assert.False(t, Type("uuid").Valid())
}

func TestNormalize(t *testing.T) {
	v, err := Int64.Normalize(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Int64.Normalize(int32(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Float64.Normalize(float32(1.5))
	require.NoError(t, err)
	assert.Equal(t, float64(1.5), v)

	v, err = String.Normalize("spork")
	require.NoError(t, err)
	assert.Equal(t, "spork", v)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	v, err = Time.Normalize(ts)
	require.NoError(t, err)
	assert.Equal(t, ts.UTC(), v)

	_, err = Int64.Normalize("42")
	assert.Error(t, err, "a string is not an int64 key")

	_, err = String.Normalize(42)
	assert.Error(t, err)
}

func TestParseValueRoundTripsWithFormatValue(t *testing.T) {
	cases := []struct {
		kt  Type
		raw string
	}{
		{String, "spork"},
		{Int64, "1234567890123"},
		{Float64, "3.25"},
		{Time, "2024-03-01T12:00:00Z"},
	}
	for _, tc := range cases {
		v, err := tc.kt.ParseValue(tc.raw)
		require.NoError(t, err)

		formatted, err := tc.kt.FormatValue(v)
		require.NoError(t, err)
		assert.Equal(t, tc.raw, formatted)
	}

	_, err := Int64.ParseValue("not-a-number")
	assert.Error(t, err)
	_, err = Time.ParseValue("yesterday")
	assert.Error(t, err)
}

func TestSQLType(t *testing.T) {
	assert.Equal(t, "VARCHAR(255)", String.SQLType())
	assert.Equal(t, "BIGINT", Int64.SQLType())
	assert.Equal(t, "DOUBLE PRECISION", Float64.SQLType())
	assert.Equal(t, "TIMESTAMP", Time.SQLType())
}
