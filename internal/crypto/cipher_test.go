package crypto

import (
	"bytes"
	"testing"

	"github.com/zeebo/assert"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

// TestSealOpenRoundTrip tests that Open inverts Seal under the same key.
func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewFieldCipher(testKey(), 1)
	assert.NoError(t, err)

	for _, plaintext := range []string{"", "short", `{"evidence":{"opcode":"REDUCE","offset":1234}}`} {
		sealed, err := c.Seal(plaintext)
		assert.NoError(t, err)
		assert.True(t, sealed != plaintext)

		opened, err := c.Open(sealed)
		assert.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

// TestSealNondeterministic tests that two seals of the same value differ.
func TestSealNondeterministic(t *testing.T) {
	c, err := NewFieldCipher(testKey(), 1)
	assert.NoError(t, err)

	a, err := c.Seal("same value")
	assert.NoError(t, err)
	b, err := c.Seal("same value")
	assert.NoError(t, err)
	assert.True(t, a != b)
}

// TestOpenWrongKey tests that a different tenant key cannot open a value.
func TestOpenWrongKey(t *testing.T) {
	c1, err := NewFieldCipher(testKey(), 1)
	assert.NoError(t, err)
	c2, err := NewFieldCipher(bytes.Repeat([]byte{0x24}, 32), 1)
	assert.NoError(t, err)

	sealed, err := c1.Seal("tenant-a secret evidence")
	assert.NoError(t, err)

	_, err = c2.Open(sealed)
	assert.Error(t, err)
}

// TestOpenRotatedKeyVersion tests that a rotation version mismatch is detected.
func TestOpenRotatedKeyVersion(t *testing.T) {
	v1, err := NewFieldCipher(testKey(), 1)
	assert.NoError(t, err)
	v2, err := NewFieldCipher(testKey(), 2)
	assert.NoError(t, err)

	sealed, err := v1.Seal("sealed under v1")
	assert.NoError(t, err)

	_, err = v2.Open(sealed)
	assert.Error(t, err)
	assert.True(t, IsKeyVersionMismatch(err))
}

// TestOpenMalformed tests rejection of garbage values.
func TestOpenMalformed(t *testing.T) {
	c, err := NewFieldCipher(testKey(), 1)
	assert.NoError(t, err)

	for _, value := range []string{"not base64!!!", "c2hvcnQ="} {
		_, err := c.Open(value)
		assert.Error(t, err)
	}
}

// TestNewFieldCipherBadKey tests key length validation.
func TestNewFieldCipherBadKey(t *testing.T) {
	_, err := NewFieldCipher([]byte("too short"), 1)
	assert.Error(t, err)
}
