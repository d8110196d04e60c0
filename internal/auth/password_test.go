// ABOUTME: Tests for bcrypt password helpers
// ABOUTME: Covers hashing, verification and the empty-hash path

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("", "hunter22"), ErrInvalidCredentials)

	_, err = HashPassword("abc")
	assert.Error(t, err)
}
