package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var cheap = Params{Memory: 64, Time: 1, Parallelism: 1, KeyLen: 16}

func TestHashVerify(t *testing.T) {
	h, err := Hash(cheap, "s3cret")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h, "$argon2id$v=19$m=64,t=1,p=1$"), h)

	require.True(t, Verify("s3cret", h))
	require.False(t, Verify("other", h))
	require.False(t, Verify("s3cret", "$argon2id$v=19$garbage"))
	require.False(t, Verify("s3cret", "$2a$10$abcdefghijklmnopqrstuv"))

	h2, err := Hash(cheap, "s3cret")
	require.NoError(t, err)
	require.NotEqual(t, h, h2, "salt aleatorio")
}

func TestHash_Empty(t *testing.T) {
	_, err := Hash(cheap, "")
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestDetect(t *testing.T) {
	require.Equal(t, AlgArgon2, Detect("$argon2id$v=19$m=64,t=1,p=1$a$b"))
	require.Equal(t, AlgBcrypt, Detect("$2b$10$abc"))
	require.Equal(t, "", Detect("c2NyeXB0"))
}
