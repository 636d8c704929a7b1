package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	hash, salt, err := HashKey("s3cret-key")
	require.NoError(t, err)

	v, err := NewVerifier(fmt.Sprintf("checkout:%s:%s", salt, hash))
	require.NoError(t, err)

	assert.True(t, v.Verify("checkout", "s3cret-key"))
	assert.False(t, v.Verify("checkout", "wrong-key"))
	assert.False(t, v.Verify("unknown-actor", "s3cret-key"))
}

func TestVerifierMultipleActors(t *testing.T) {
	hashA, saltA, err := HashKey("key-a")
	require.NoError(t, err)
	hashB, saltB, err := HashKey("key-b")
	require.NoError(t, err)

	v, err := NewVerifier(fmt.Sprintf("alpha:%s:%s, beta:%s:%s", saltA, hashA, saltB, hashB))
	require.NoError(t, err)

	assert.True(t, v.Verify("alpha", "key-a"))
	assert.True(t, v.Verify("beta", "key-b"))
	assert.False(t, v.Verify("alpha", "key-b"), "keys must not cross actors")
}

func TestNewVerifierRejectsMalformedSpec(t *testing.T) {
	_, err := NewVerifier("missing-fields")
	assert.Error(t, err)

	_, err = NewVerifier("actor:!!!notbase64:AAAA")
	assert.Error(t, err)
}

func TestEmptySpecDeniesEveryone(t *testing.T) {
	v, err := NewVerifier("")
	require.NoError(t, err)
	assert.False(t, v.Verify("anyone", "anything"))
}
