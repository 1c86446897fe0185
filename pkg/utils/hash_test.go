package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashString("hello"))
	assert.Equal(t, HashString("same text"), HashBytes([]byte("same text")))
	assert.NotEqual(t, HashString("a"), HashString("b"))
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("  a \n\t b   c\n"))
	assert.Equal(t, "", NormalizeWhitespace(" \n "))
}
