package common

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString_SessionTokenShape(t *testing.T) {
	s, err := MakeRandHexString(SessionTokenSize)
	require.NoError(t, err)
	assert.Len(t, s, SessionTokenSize*2)

	_, err = hex.DecodeString(s)
	assert.NoError(t, err, "token must be valid hex")
}

func TestMakeRandHexString_ZeroSize(t *testing.T) {
	s, err := MakeRandHexString(0)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestMakeRandHexString_Distinct(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		s, err := MakeRandHexString(16)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup, "duplicate token %q", s)
		seen[s] = struct{}{}
	}
}

func TestGenerateRandByteArray_Length(t *testing.T) {
	b := GenerateRandByteArray(24)
	assert.Len(t, b, 24)
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte("hunter2")
	WipeByteArray(buf)
	for i, v := range buf {
		assert.Zerof(t, v, "byte %d not wiped", i)
	}

	WipeByteArray(nil)
}

func TestErrors_AreDistinct(t *testing.T) {
	all := []error{
		ErrorNotFound, ErrDuplicateUsername, ErrorInternal, ErrorUnauthorized,
		ErrMissingField, ErrInvalidCredentials, ErrAuthRequired, ErrSessionNotFound,
		ErrRejected, ErrClassificationFailed, ErrInvalidToken, ErrTokenExpired, ErrPasswordTooLong,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v must not match %v", a, b)
			}
		}
	}
}
