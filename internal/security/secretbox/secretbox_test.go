package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	b, err := New(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)

	msg := "JBSWY3DPEHPK3PXP"
	ct, err := b.Seal(msg)
	require.NoError(t, err)
	require.NotContains(t, ct, msg)

	pt, err := b.Open(ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestOpen_DetectsTamper(t *testing.T) {
	b, err := New(hex.EncodeToString(testKey()))
	require.NoError(t, err)

	ct, err := b.Seal("top secret")
	require.NoError(t, err)
	parts := strings.Split(ct, "|")
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	raw[0] ^= 0xFF
	_, err = b.Open(parts[0] + "|" + base64.StdEncoding.EncodeToString(raw))
	require.ErrorContains(t, err, "gcm auth/decrypt")

	_, err = b.Open("no-separator")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpen_WrongKey(t *testing.T) {
	a, err := New(base64.RawStdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)
	other, err := New(strings.Repeat("k", 32))
	require.NoError(t, err)

	ct, err := a.Seal("x")
	require.NoError(t, err)
	_, err = other.Open(ct)
	require.Error(t, err)
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New("short")
	require.Error(t, err)
}
