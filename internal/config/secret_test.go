package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_String(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", s.String())

	empty := Secret("")
	assert.Equal(t, "", empty.String())
}

func TestSecret_GoString(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
}

func TestSecret_MarshalJSON(t *testing.T) {
	s := Secret("password123")
	data, err := s.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))
}

func TestSecret_MarshalYAML(t *testing.T) {
	s := Secret("password123")
	val, err := s.MarshalYAML()
	assert.NoError(t, err)
	assert.Equal(t, "[REDACTED]", val)
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer(Secret("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("super-secret-api-key")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "super-secret-api-key")

	plain, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", plain)
}

func TestSealer_InvalidKeyLength(t *testing.T) {
	_, err := NewSealer(Secret("too-short"))
	assert.Error(t, err)
}

func TestSealer_TamperedCiphertextFailsToOpen(t *testing.T) {
	sealer, err := NewSealer(Secret("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := sealer.Seal("api-secret")
	require.NoError(t, err)

	tampered := sealed[:len(sealed)-4] + "abcd"
	_, err = sealer.Open(tampered)
	assert.Error(t, err)
}
