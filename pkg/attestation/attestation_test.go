package attestation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	h := Hash("mandat#1;papiers,logement", "pepper")

	assert.Len(t, h, 64)
	assert.Equal(t, h, Hash("mandat#1;papiers,logement", "pepper"), "hash must be deterministic")
	assert.NotEqual(t, h, Hash("mandat#1;papiers,logement", "other-salt"))
	assert.NotEqual(t, h, Hash("mandat#2;papiers", "pepper"))
}

func TestValidate(t *testing.T) {
	h := Hash("attestation body", "salt")

	assert.True(t, Validate("attestation body", "salt", h))
	assert.False(t, Validate("tampered body", "salt", h))
	assert.False(t, Validate("attestation body", "salt", "deadbeef"))
}
