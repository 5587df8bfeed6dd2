package sha256

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHash(t *testing.T) {
	t.Parallel()

	require.Equal(t, helloDigest, Hash([]byte("hello world")))
	require.Equal(t, Hash([]byte("hello world")), Hash([]byte("hello world")))
}

func TestReaderMatchesHash(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("hello world"))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Equal(t, helloDigest, r.Sum())
	require.EqualValues(t, 11, r.Size())
}
