package blob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashes(t *testing.T) {
	t.Parallel()

	const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	assert.Equal(t, helloSHA256, ContentHash([]byte("hello")))
	assert.Equal(t, helloSHA256, MetadataHash([]byte("hello")))
	assert.Empty(t, MetadataHash(nil))

	got, err := HashReader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSHA256, got)
}
