package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKeyA = "0x" + strings.Repeat("11", 32)
var testKeyB = "0x" + strings.Repeat("22", 32)

func TestDeriveAddressIsDeterministicAndWellFormed(t *testing.T) {
	addr1, err := deriveAddress(testKeyA)
	require.NoError(t, err)
	addr2, err := deriveAddress(testKeyA)
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
	assert.Len(t, addr1, 42)
	assert.Equal(t, "0x", addr1[:2])
}

func TestDeriveAddressAcceptsKeyWithoutHexPrefix(t *testing.T) {
	withPrefix, err := deriveAddress(testKeyB)
	require.NoError(t, err)
	withoutPrefix, err := deriveAddress(testKeyB[2:])
	require.NoError(t, err)
	assert.Equal(t, withPrefix, withoutPrefix)
}

func TestDeriveAddressDiffersByKey(t *testing.T) {
	addrA, err := deriveAddress(testKeyA)
	require.NoError(t, err)
	addrB, err := deriveAddress(testKeyB)
	require.NoError(t, err)
	assert.NotEqual(t, addrA, addrB)
}

func TestDeriveAddressRejectsMalformedKeys(t *testing.T) {
	_, err := deriveAddress("not-hex")
	assert.Error(t, err)

	_, err = deriveAddress("0x1234")
	assert.Error(t, err)
}
