package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	a, err := Generate("chl")
	require.NoError(t, err)
	b := MustGenerate("chl")

	assert.True(t, strings.HasPrefix(a, "chl-"))
	assert.Len(t, a, len("chl-")+21)
	assert.NotEqual(t, a, b)
}
